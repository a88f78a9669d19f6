// Package audit is the append-only trail of request lifecycle changes.
//
// Entries are written inside the same transaction as the change they
// describe. A failed append aborts the change. The table doubles as an
// outbox: the relay publishes committed entries to Kafka and stamps
// PublishedAt.
package audit

import (
	"context"
	"time"

	id "opsflow/pkg/domain"
)

// Action names a lifecycle event, e.g. LEAVE_REQUEST_APPROVED.
type Action string

// Entry is immutable once appended. ID is assigned by the store and strictly
// increases in commit order.
type Entry struct {
	ID          int64          `json:"id"`
	RequestID   id.RequestID   `json:"request_id"`
	ActorID     id.UserID      `json:"actor_id"`
	Action      Action         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	PublishedAt *time.Time     `json:"-"`
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByRequest(ctx context.Context, requestID id.RequestID) ([]Entry, error)
	Reader
}

// Reader pages through entries newest first.
type Reader interface {
	List(ctx context.Context, q Query) (*Page, error)
}

// Outbox exposes committed entries that have not been relayed yet.
type Outbox interface {
	ListUnpublished(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}
