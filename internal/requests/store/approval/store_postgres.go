package approval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"opsflow/internal/platform/postgres"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
	txcontext "opsflow/pkg/platform/tx"
)

// PostgresStore persists approvals. UNIQUE (request_id, ord) turns a lost race
// into sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, a *models.Approval) error {
	query := `
		INSERT INTO approvals (id, request_id, approver_id, level, action, status, comments, ord, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(a.ID),
		uuid.UUID(a.RequestID),
		uuid.UUID(a.ApproverID),
		string(a.Level),
		string(a.Action),
		string(a.Status),
		a.Comments,
		a.Order,
		a.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID id.RequestID) ([]models.Approval, error) {
	query := `
		SELECT id, request_id, approver_id, level, action, status, comments, ord, created_at
		FROM approvals
		WHERE request_id = $1
		ORDER BY ord
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var (
			a                     models.Approval
			aid, rid, approver    uuid.UUID
			level, action, status string
		)
		if err := rows.Scan(&aid, &rid, &approver, &level, &action, &status, &a.Comments, &a.Order, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.ID = id.ApprovalID(aid)
		a.RequestID = id.RequestID(rid)
		a.ApproverID = id.UserID(approver)
		a.Level = models.Level(level)
		a.Action = models.ApprovalAction(action)
		a.Status = models.ApprovalStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}
