package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"opsflow/internal/platform/postgres"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
	txcontext "opsflow/pkg/platform/tx"
)

// PostgresStore writes the shift, invoice and finance record of a completed
// leave. Call Record inside the completion transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, b *models.Billing) error {
	exec := txcontext.Exec(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO locum_shifts (id, request_id, locum_id, start_date, end_date, days, daily_rate_cents, total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(b.Shift.ID), uuid.UUID(b.Shift.RequestID), uuid.UUID(b.Shift.LocumID),
		b.Shift.StartDate, b.Shift.EndDate, b.Shift.Days, b.Shift.DailyRateCents, b.Shift.TotalCents, b.Shift.CreatedAt,
	)
	if err != nil {
		return insertErr("locum shift", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO invoices (id, request_id, shift_id, locum_id, amount_cents, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(b.Invoice.ID), uuid.UUID(b.Invoice.RequestID), uuid.UUID(b.Invoice.ShiftID), uuid.UUID(b.Invoice.LocumID),
		b.Invoice.AmountCents, string(b.Invoice.Status), b.Invoice.IssuedAt,
	)
	if err != nil {
		return insertErr("invoice", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO finance_records (id, request_id, invoice_id, department, kind, amount_cents, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(b.Record.ID), uuid.UUID(b.Record.RequestID), uuid.UUID(b.Record.InvoiceID),
		b.Record.Department, b.Record.Kind, b.Record.AmountCents, b.Record.RecordedAt,
	)
	if err != nil {
		return insertErr("finance record", err)
	}
	return nil
}

func insertErr(what string, err error) error {
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

func (s *PostgresStore) FindByRequest(ctx context.Context, requestID id.RequestID) (*models.Billing, error) {
	query := `
		SELECT s.id, s.locum_id, s.start_date, s.end_date, s.days, s.daily_rate_cents, s.total_cents, s.created_at,
		       i.id, i.amount_cents, i.status, i.issued_at,
		       f.id, f.department, f.kind, f.amount_cents, f.recorded_at
		FROM locum_shifts s
		JOIN invoices i ON i.shift_id = s.id
		JOIN finance_records f ON f.invoice_id = i.id
		WHERE s.request_id = $1
	`
	var (
		b                   models.Billing
		shiftID, locumID    uuid.UUID
		invoiceID, recordID uuid.UUID
		invoiceStatus       string
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(requestID)).Scan(
		&shiftID, &locumID, &b.Shift.StartDate, &b.Shift.EndDate, &b.Shift.Days, &b.Shift.DailyRateCents, &b.Shift.TotalCents, &b.Shift.CreatedAt,
		&invoiceID, &b.Invoice.AmountCents, &invoiceStatus, &b.Invoice.IssuedAt,
		&recordID, &b.Record.Department, &b.Record.Kind, &b.Record.AmountCents, &b.Record.RecordedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find billing: %w", err)
	}
	b.Shift.ID = id.RecordID(shiftID)
	b.Shift.RequestID = requestID
	b.Shift.LocumID = id.UserID(locumID)
	b.Invoice.ID = id.RecordID(invoiceID)
	b.Invoice.RequestID = requestID
	b.Invoice.ShiftID = b.Shift.ID
	b.Invoice.LocumID = b.Shift.LocumID
	b.Invoice.Status = models.InvoiceStatus(invoiceStatus)
	b.Record.ID = id.RecordID(recordID)
	b.Record.RequestID = requestID
	b.Record.InvoiceID = b.Invoice.ID
	return &b, nil
}
