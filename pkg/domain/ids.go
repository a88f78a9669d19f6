// Package domain holds identifier types shared across bounded contexts.
//
// Each identifier is a distinct named type over uuid.UUID so the compiler
// rejects passing a RequestID where a UserID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "opsflow/pkg/domain-errors"
)

type (
	UserID         uuid.UUID
	RequestID      uuid.UUID
	ApprovalID     uuid.UUID
	NotificationID uuid.UUID
	RecordID       uuid.UUID
)

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id RequestID) String() string      { return uuid.UUID(id).String() }
func (id ApprovalID) String() string     { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }
func (id RecordID) String() string       { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed IDs serialize as plain UUID strings in JSON.
func (id UserID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id RequestID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ApprovalID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id NotificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id RecordID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid user ID")
	}
	*id = UserID(u)
	return nil
}

func (id *RequestID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request ID")
	}
	*id = RequestID(u)
	return nil
}

func NewUserID() UserID                 { return UserID(uuid.New()) }
func NewRequestID() RequestID           { return RequestID(uuid.New()) }
func NewApprovalID() ApprovalID         { return ApprovalID(uuid.New()) }
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }
func NewRecordID() RecordID             { return RecordID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request ID")
	return RequestID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification ID")
	return NotificationID(u), err
}

// parseUUID enforces the trust-boundary rule: IDs are non-empty, well-formed,
// non-nil UUIDs.
func parseUUID(s, name string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+name)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" must not be nil")
	}
	return u, nil
}
