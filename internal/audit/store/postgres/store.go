package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opsflow/internal/audit"
	id "opsflow/pkg/domain"
	txcontext "opsflow/pkg/platform/tx"
)

// Store implements audit.Store and audit.Outbox over the audit_log table.
// Append joins the caller's transaction when one is in context, so an entry
// commits or rolls back with the change it describes.
type Store struct {
	db *sql.DB
}

var _ audit.Store = (*Store)(nil)
var _ audit.Outbox = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	query := `
		INSERT INTO audit_log (request_id, actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(entry.RequestID),
		uuid.UUID(entry.ActorID),
		string(entry.Action),
		details,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListByRequest(ctx context.Context, requestID id.RequestID) ([]audit.Entry, error) {
	query := `
		SELECT id, request_id, actor_id, action, details, created_at, published_at
		FROM audit_log
		WHERE request_id = $1
		ORDER BY id
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List pages through entries newest first. The window count gives the
// unpaged total; past the last page it is recounted.
func (s *Store) List(ctx context.Context, q audit.Query) (*audit.Page, error) {
	q = q.Normalize()
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.RequestID.IsNil() {
		where = append(where, "request_id = "+arg(uuid.UUID(q.RequestID)))
	}
	if q.Action != "" {
		where = append(where, "action = "+arg(string(q.Action)))
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= "+arg(q.From))
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < "+arg(q.Until))
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}
	filterArgs := len(args)

	query := `SELECT id, request_id, actor_id, action, details, created_at, published_at, COUNT(*) OVER()
		FROM audit_log` + filter + ` ORDER BY id DESC LIMIT ` + arg(q.Limit) + ` OFFSET ` + arg(q.Offset())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	page := &audit.Page{Page: q.Page, Limit: q.Limit}
	for rows.Next() {
		var (
			e     audit.Entry
			total int
		)
		if err := scanEntry(rows, &e, &total); err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
		page.Total = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	if len(page.Entries) == 0 && q.Offset() > 0 {
		count := `SELECT COUNT(*) FROM audit_log` + filter
		if err := s.db.QueryRowContext(ctx, count, args[:filterArgs]...).Scan(&page.Total); err != nil {
			return nil, fmt.Errorf("count audit entries: %w", err)
		}
	}
	return page, nil
}

// ListUnpublished returns the oldest entries the relay has not shipped yet.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, request_id, actor_id, action, details, created_at, published_at
		FROM audit_log
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE audit_log SET published_at = $2 WHERE id = ANY($1) AND published_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark audit entries published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// scanEntry reads one audit_log row. extra receives trailing columns such as
// a window count.
func scanEntry(rows *sql.Rows, e *audit.Entry, extra ...any) error {
	var (
		requestID uuid.UUID
		actorID   uuid.UUID
		action    string
		details   []byte
		published sql.NullTime
	)
	dest := append([]any{&e.ID, &requestID, &actorID, &action, &details, &e.Timestamp, &published}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan audit entry: %w", err)
	}
	e.RequestID = id.RequestID(requestID)
	e.ActorID = id.UserID(actorID)
	e.Action = audit.Action(action)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return fmt.Errorf("decode audit details: %w", err)
		}
	}
	if published.Valid {
		t := published.Time
		e.PublishedAt = &t
	}
	return nil
}
