package models

import (
	"math"
	"time"

	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

type InvoiceStatus string

const InvoiceIssued InvoiceStatus = "ISSUED"

const FinanceKindLocumCover = "LOCUM_COVER"

// LocumShift is the cover worked by a stand-in during a completed leave.
type LocumShift struct {
	ID             id.RecordID  `json:"id"`
	RequestID      id.RequestID `json:"request_id"`
	LocumID        id.UserID    `json:"locum_id"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Days           int          `json:"days"`
	DailyRateCents int64        `json:"daily_rate_cents"`
	TotalCents     int64        `json:"total_cents"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Invoice struct {
	ID          id.RecordID   `json:"id"`
	RequestID   id.RequestID  `json:"request_id"`
	ShiftID     id.RecordID   `json:"shift_id"`
	LocumID     id.UserID     `json:"locum_id"`
	AmountCents int64         `json:"amount_cents"`
	Status      InvoiceStatus `json:"status"`
	IssuedAt    time.Time     `json:"issued_at"`
}

type FinanceRecord struct {
	ID          id.RecordID  `json:"id"`
	RequestID   id.RequestID `json:"request_id"`
	InvoiceID   id.RecordID  `json:"invoice_id"`
	Department  string       `json:"department"`
	Kind        string       `json:"kind"`
	AmountCents int64        `json:"amount_cents"`
	RecordedAt  time.Time    `json:"recorded_at"`
}

// Billing groups the records a completed, covered leave produces.
type Billing struct {
	Shift   LocumShift
	Invoice Invoice
	Record  FinanceRecord
}

// NewLeaveBilling derives billing records for a completed leave. ok is false
// when the request is not a leave or has no assigned stand-in. A cover whose
// total does not fit in int64 cents is an invariant violation.
func NewLeaveBilling(req *Request, now time.Time) (*Billing, bool, error) {
	leave, isLeave := req.Leave()
	if !isLeave || leave.StandIn == nil {
		return nil, false, nil
	}
	days := leave.Days()
	rate := leave.StandIn.DailyRateCents
	if days < 1 || rate < 0 || (rate > 0 && int64(days) > math.MaxInt64/rate) {
		return nil, false, dErrors.New(dErrors.CodeInvariantViolation, "locum cover total is out of range")
	}
	total := int64(days) * rate

	shift := LocumShift{
		ID:             id.NewRecordID(),
		RequestID:      req.ID,
		LocumID:        leave.StandIn.LocumID,
		StartDate:      leave.StartDate,
		EndDate:        leave.EndDate,
		Days:           days,
		DailyRateCents: leave.StandIn.DailyRateCents,
		TotalCents:     total,
		CreatedAt:      now,
	}
	invoice := Invoice{
		ID:          id.NewRecordID(),
		RequestID:   req.ID,
		ShiftID:     shift.ID,
		LocumID:     shift.LocumID,
		AmountCents: total,
		Status:      InvoiceIssued,
		IssuedAt:    now,
	}
	record := FinanceRecord{
		ID:          id.NewRecordID(),
		RequestID:   req.ID,
		InvoiceID:   invoice.ID,
		Department:  req.Department,
		Kind:        FinanceKindLocumCover,
		AmountCents: total,
		RecordedAt:  now,
	}
	return &Billing{Shift: shift, Invoice: invoice, Record: record}, true, nil
}
