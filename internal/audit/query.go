package audit

import (
	"time"

	id "opsflow/pkg/domain"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
	MaxPage          = 1_000_000
)

// Query selects entries for the admin listing. Zero fields do not filter.
// From is inclusive and Until exclusive.
type Query struct {
	RequestID id.RequestID
	Action    Action
	From      time.Time
	Until     time.Time
	Page      int
	Limit     int
}

// Normalize applies pagination defaults and caps.
func (q Query) Normalize() Query {
	q.Page = min(max(q.Page, 1), MaxPage)
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	q.Limit = min(q.Limit, MaxPageLimit)
	return q
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Matches reports whether e passes every set filter field.
func (q Query) Matches(e Entry) bool {
	if !q.RequestID.IsNil() && e.RequestID != q.RequestID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	return true
}

// Page is one newest-first page of entries plus the unpaged total.
type Page struct {
	Entries []Entry `json:"items"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}
