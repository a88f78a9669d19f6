package service

import (
	"context"
	"time"

	"opsflow/internal/audit"
	"opsflow/internal/notification"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
)

// RequestStore is the write side of request persistence. Update is guarded by
// req.Version and advances it on success.
type RequestStore interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Update(ctx context.Context, req *models.Request) error
}

// RequestRepository adds the read-only queries used outside transactions.
type RequestRepository interface {
	RequestStore
	List(ctx context.Context, filter models.ListFilter) (*models.Page, error)
	// ListLeavesEndedBefore pages by ID: it returns up to limit IDs greater
	// than after, ascending. A zero after starts from the beginning.
	ListLeavesEndedBefore(ctx context.Context, day time.Time, after id.RequestID, limit int) ([]id.RequestID, error)
}

type ApprovalStore interface {
	Append(ctx context.Context, a *models.Approval) error
	ListByRequest(ctx context.Context, requestID id.RequestID) ([]models.Approval, error)
}

type BillingStore interface {
	Record(ctx context.Context, b *models.Billing) error
	FindByRequest(ctx context.Context, requestID id.RequestID) (*models.Billing, error)
}

type AuditLog interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

type NotificationQueue interface {
	Enqueue(ctx context.Context, n notification.Notification) error
}

// Stores is what a transaction body may touch. Every write made through it
// commits or rolls back together.
type Stores struct {
	Requests      RequestStore
	Approvals     ApprovalStore
	Billing       BillingStore
	Audit         AuditLog
	Notifications NotificationQueue
}

// StoreTx runs fn as one atomic unit. key names the request being changed;
// implementations may use it to serialize writers of the same request.
type StoreTx interface {
	RunInTx(ctx context.Context, key id.RequestID, fn func(ctx context.Context, s Stores) error) error
}
