// Package models holds the value types shared by the rate limit stores and
// middleware.
package models

import (
	"math"
	"net/http"
	"strings"
	"time"

	id "opsflow/pkg/domain"
)

// EndpointClass groups routes that share a budget.
type EndpointClass string

const (
	ClassRead  EndpointClass = "read"
	ClassWrite EndpointClass = "write"
)

// ClassFor treats safe methods as reads and everything else as writes.
func ClassFor(r *http.Request) EndpointClass {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

// Limit is a request budget over a sliding window. A non-positive Requests
// disables the limit.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the answer came from the in-process fallback.
	Degraded bool
}

// RetryAfter is the whole seconds until the oldest counted request leaves the
// window, at least one.
func (r *Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	return max(secs, 1)
}

// ActorKey builds the bucket key for one actor and class. Segments never
// contain ':' so keys cannot collide.
func ActorKey(actorID id.UserID, class EndpointClass) string {
	return "actor:" + actorID.String() + ":" + sanitize(string(class))
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
