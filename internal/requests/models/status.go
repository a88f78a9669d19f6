package models

import (
	"time"

	"opsflow/internal/access"
)

// Status is the externally visible lifecycle state of a request.
//
// Ordering: PENDING < {APPROVED, REJECTED, CANCELLED} < COMPLETED.
// A request never re-enters PENDING once it leaves it.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Rank places the status on the monotonic lifecycle order.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusApproved, StatusRejected, StatusCancelled:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// CanTransitionTo reports whether next is a legal successor of s, independent
// of variant. Variant restrictions are layered on by Details.AllowsStatus.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected || next == StatusCancelled
	case StatusApproved:
		return next == StatusCompleted
	}
	return false
}

// PermissionFor returns the capability an actor needs to drive a request into
// next. Completion is system-driven and needs none.
func PermissionFor(next Status) (access.Permission, bool) {
	switch next {
	case StatusApproved:
		return access.PermApprove, true
	case StatusRejected:
		return access.PermReject, true
	}
	return "", false
}

// StatusChange is a display-only history entry.
type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
