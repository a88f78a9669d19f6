package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opsflow/internal/notification"
	"opsflow/internal/platform/postgres"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
	txcontext "opsflow/pkg/platform/tx"
)

// Store implements notification.Store over the notifications table.
type Store struct {
	db *sql.DB
}

var _ notification.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Enqueue(ctx context.Context, n notification.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, request_id, message, read, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(n.ID),
		uuid.UUID(n.RecipientID),
		uuid.UUID(n.RequestID),
		n.Message,
		n.Read,
		n.CreatedAt,
		n.SentAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListUnsent(ctx context.Context, limit int) ([]notification.Notification, error) {
	query := `
		SELECT id, recipient_id, request_id, message, read, created_at, sent_at
		FROM notifications
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsent notifications: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

func (s *Store) MarkSent(ctx context.Context, notificationID id.NotificationID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET sent_at = $2 WHERE id = $1`, uuid.UUID(notificationID), at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return requireOneRow(res)
}

func (s *Store) ListByRecipient(ctx context.Context, recipient id.UserID, limit int) ([]notification.Notification, error) {
	query := `
		SELECT id, recipient_id, request_id, message, read, created_at, sent_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(recipient), limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

func (s *Store) MarkRead(ctx context.Context, notificationID id.NotificationID, recipient id.UserID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`,
		uuid.UUID(notificationID), uuid.UUID(recipient),
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scan(rows *sql.Rows) ([]notification.Notification, error) {
	var out []notification.Notification
	for rows.Next() {
		var (
			n                         notification.Notification
			nid, recipient, requestID uuid.UUID
			sentAt                    sql.NullTime
		)
		if err := rows.Scan(&nid, &recipient, &requestID, &n.Message, &n.Read, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID = id.NotificationID(nid)
		n.RecipientID = id.UserID(recipient)
		n.RequestID = id.RequestID(requestID)
		if sentAt.Valid {
			t := sentAt.Time
			n.SentAt = &t
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
