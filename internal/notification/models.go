// Package notification is the best-effort side channel that tells people a
// request changed. Rows are written inside the lifecycle transaction. Delivery
// happens after commit and may fail without undoing anything.
package notification

import (
	"context"
	"time"

	id "opsflow/pkg/domain"
)

type Notification struct {
	ID          id.NotificationID `json:"id"`
	RecipientID id.UserID         `json:"recipient_id"`
	RequestID   id.RequestID      `json:"request_id"`
	Message     string            `json:"message"`
	Read        bool              `json:"read"`
	CreatedAt   time.Time         `json:"created_at"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
}

func New(recipient id.UserID, requestID id.RequestID, message string, now time.Time) Notification {
	return Notification{
		ID:          id.NewNotificationID(),
		RecipientID: recipient,
		RequestID:   requestID,
		Message:     message,
		CreatedAt:   now,
	}
}

// Store persists notifications. Enqueue participates in the caller's transaction.
type Store interface {
	Enqueue(ctx context.Context, n Notification) error
	ListUnsent(ctx context.Context, limit int) ([]Notification, error)
	MarkSent(ctx context.Context, notificationID id.NotificationID, at time.Time) error
	ListByRecipient(ctx context.Context, recipient id.UserID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID, recipient id.UserID) error
}
