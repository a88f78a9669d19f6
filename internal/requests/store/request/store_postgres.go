package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opsflow/internal/platform/postgres"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
	txcontext "opsflow/pkg/platform/tx"
)

// PostgresStore persists requests in the requests table. Every statement joins
// the transaction in ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, requester_id, department, variant, status, chain, status_history, details, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, req *models.Request) error {
	row, err := encode(req)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO requests (` + requestColumns + `, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		uuid.UUID(req.RequesterID),
		req.Department,
		string(req.Variant()),
		string(req.Status),
		pq.Array(row.chain),
		row.history,
		row.details,
		req.CreatedAt,
		req.UpdatedAt,
		req.Version,
		row.endDate,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	req, err := scanRequest(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}
	return req, nil
}

// Update writes req guarded by its version. Zero affected rows means another
// writer got there first, or the row is gone.
func (s *PostgresStore) Update(ctx context.Context, req *models.Request) error {
	row, err := encode(req)
	if err != nil {
		return err
	}
	query := `
		UPDATE requests
		SET status = $3, status_history = $4, details = $5, end_date = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		req.Version,
		string(req.Status),
		row.history,
		row.details,
		row.endDate,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, req.ID); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	req.Version++
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) (*models.Page, error) {
	filter = filter.Normalize()
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.RequesterID.IsNil() {
		where = append(where, "requester_id = "+arg(uuid.UUID(filter.RequesterID)))
	}
	if filter.Department != "" {
		where = append(where, "department = "+arg(filter.Department))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if len(filter.Variants) > 0 {
		variants := make([]string, len(filter.Variants))
		for i, v := range filter.Variants {
			variants[i] = string(v)
		}
		where = append(where, "variant = ANY("+arg(pq.Array(variants))+")")
	}

	query := `SELECT ` + requestColumns + `, COUNT(*) OVER() FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset())

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	page := &models.Page{Page: filter.Page, Limit: filter.Limit}
	for rows.Next() {
		req, total, err := scanRequestWithTotal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		page.Items = append(page.Items, req)
		page.Total = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	if len(page.Items) == 0 && filter.Offset() > 0 {
		// Past the last page the window count is unavailable.
		if err := s.count(ctx, query, args, page); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (s *PostgresStore) count(ctx context.Context, listQuery string, args []any, page *models.Page) error {
	// Drop LIMIT/OFFSET and wrap the listing.
	cut := strings.LastIndex(listQuery, " ORDER BY")
	query := `SELECT COUNT(*) FROM (` + listQuery[:cut] + `) AS matched`
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, args[:len(args)-2]...).Scan(&page.Total); err != nil {
		return fmt.Errorf("count requests: %w", err)
	}
	return nil
}

// ListLeavesEndedBefore keysets on id. The nil UUID sorts before every
// generated one, so a zero after starts from the beginning.
func (s *PostgresStore) ListLeavesEndedBefore(ctx context.Context, day time.Time, after id.RequestID, limit int) ([]id.RequestID, error) {
	query := `
		SELECT id FROM requests
		WHERE variant = $1 AND status = $2 AND end_date < $3 AND id > $4
		ORDER BY id
		LIMIT $5
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.VariantLeave), string(models.StatusApproved), day, uuid.UUID(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list due leaves: %w", err)
	}
	defer rows.Close()
	var out []id.RequestID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan due leave: %w", err)
		}
		out = append(out, id.RequestID(u))
	}
	return out, rows.Err()
}

type encodedRow struct {
	chain   []string
	history []byte
	details []byte
	endDate sql.NullTime
}

func encode(req *models.Request) (*encodedRow, error) {
	row := &encodedRow{chain: make([]string, len(req.Chain))}
	for i, lvl := range req.Chain {
		row.chain[i] = string(lvl)
	}
	var err error
	if row.history, err = json.Marshal(req.History); err != nil {
		return nil, fmt.Errorf("marshal status history: %w", err)
	}
	if row.details, err = json.Marshal(req.Details); err != nil {
		return nil, fmt.Errorf("marshal request details: %w", err)
	}
	if leave, ok := req.Leave(); ok {
		row.endDate = sql.NullTime{Time: leave.EndDate, Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.Request, error) {
	var (
		rid, requester uuid.UUID
		variant        string
		status         string
		chain          []string
		history        []byte
		details        []byte
		req            models.Request
	)
	err := row.Scan(&rid, &requester, &req.Department, &variant, &status, pq.Array(&chain),
		&history, &details, &req.CreatedAt, &req.UpdatedAt, &req.Version)
	if err != nil {
		return nil, err
	}
	return decode(&req, rid, requester, variant, status, chain, history, details)
}

func scanRequestWithTotal(rows *sql.Rows) (*models.Request, int, error) {
	var (
		rid, requester uuid.UUID
		variant        string
		status         string
		chain          []string
		history        []byte
		details        []byte
		total          int
		req            models.Request
	)
	err := rows.Scan(&rid, &requester, &req.Department, &variant, &status, pq.Array(&chain),
		&history, &details, &req.CreatedAt, &req.UpdatedAt, &req.Version, &total)
	if err != nil {
		return nil, 0, err
	}
	out, err := decode(&req, rid, requester, variant, status, chain, history, details)
	return out, total, err
}

func decode(req *models.Request, rid, requester uuid.UUID, variant, status string, chain []string, history, details []byte) (*models.Request, error) {
	req.ID = id.RequestID(rid)
	req.RequesterID = id.UserID(requester)
	req.Status = models.Status(status)
	req.Chain = make(models.Chain, len(chain))
	for i, lvl := range chain {
		req.Chain[i] = models.Level(lvl)
	}
	if err := json.Unmarshal(history, &req.History); err != nil {
		return nil, fmt.Errorf("decode status history: %w", err)
	}
	d, err := models.DecodeDetails(models.Variant(variant), details)
	if err != nil {
		return nil, err
	}
	req.Details = d
	return req, nil
}
