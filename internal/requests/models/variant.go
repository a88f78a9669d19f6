package models

import (
	"fmt"
	"strings"
	"time"

	"opsflow/internal/access"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

// Variant discriminates the tagged Request union.
type Variant string

const (
	VariantLeave     Variant = "LEAVE"
	VariantIncident  Variant = "INCIDENT"
	VariantOperation Variant = "OPERATION"
)

func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VariantLeave, VariantIncident, VariantOperation:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown request type")
}

// Resource maps a variant onto the capability matrix.
func (v Variant) Resource() access.Resource {
	switch v {
	case VariantLeave:
		return access.ResourceLeave
	case VariantIncident:
		return access.ResourceIncident
	case VariantOperation:
		return access.ResourceOperation
	}
	return ""
}

// Details is the variant-specific payload of a Request. Each variant has
// exactly one implementation.
type Details interface {
	Variant() Variant
	// Validate checks content invariants.
	Validate() error
	// AllowsStatus restricts the shared status set per variant.
	AllowsStatus(Status) bool
	// NeedsFinance decides whether the chain gets a FINANCE_MANAGER level.
	NeedsFinance(policy FinancePolicy) bool
	// ApplyEdit mutates editable content fields in place.
	ApplyEdit(edit ContentEdit) error
	clone() Details
}

// ContentEdit carries optional field updates for a PENDING request. Fields
// that would change the frozen chain (cost, finance flag, stand-in) are not
// editable.
type ContentEdit struct {
	Reason          *string
	AdditionalNotes *string
	StartDate       *time.Time
	EndDate         *time.Time
	Title           *string
	Description     *string
	Location        *string
	Justification   *string
}

func (e ContentEdit) IsEmpty() bool {
	return e.Reason == nil && e.AdditionalNotes == nil && e.StartDate == nil && e.EndDate == nil &&
		e.Title == nil && e.Description == nil && e.Location == nil && e.Justification == nil
}

const maxTextLen = 2000

func checkText(field, value string, required bool) error {
	if required && strings.TrimSpace(value) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, field+" is required")
	}
	if len(value) > maxTextLen {
		return dErrors.New(dErrors.CodeInvariantViolation, field+" is too long")
	}
	return nil
}

func notEditable(v Variant, field string) error {
	return dErrors.New(dErrors.CodeInvariantViolation, field+" cannot be edited on a "+strings.ToLower(string(v))+" request")
}

// -----------------------------------------------------------------------------
// Leave
// -----------------------------------------------------------------------------

type LeaveType string

const (
	LeaveAnnual    LeaveType = "ANNUAL"
	LeaveSick      LeaveType = "SICK"
	LeaveMaternity LeaveType = "MATERNITY"
	LeavePaternity LeaveType = "PATERNITY"
	LeaveUnpaid    LeaveType = "UNPAID"
)

func (t LeaveType) IsValid() bool {
	switch t {
	case LeaveAnnual, LeaveSick, LeaveMaternity, LeavePaternity, LeaveUnpaid:
		return true
	}
	return false
}

const (
	// MaxLeaveDays bounds one leave request, both ends inclusive.
	MaxLeaveDays = 366
	// MaxDailyRateCents bounds a stand-in's daily rate.
	MaxDailyRateCents int64 = 10_000_000
)

// StandIn is the locum covering the requester while on leave.
type StandIn struct {
	LocumID        id.UserID `json:"locum_id"`
	DailyRateCents int64     `json:"daily_rate_cents"`
}

// Billable reports whether the cover produces cost.
func (s *StandIn) Billable() bool {
	return s != nil && s.DailyRateCents > 0
}

type Leave struct {
	Type            LeaveType `json:"type"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Reason          string    `json:"reason"`
	AdditionalNotes string    `json:"additional_notes,omitempty"`
	StandIn         *StandIn  `json:"stand_in,omitempty"`
}

func (l *Leave) Variant() Variant { return VariantLeave }

func (l *Leave) Validate() error {
	if !l.Type.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid leave type")
	}
	if l.StartDate.IsZero() || l.EndDate.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "start and end dates are required")
	}
	if l.EndDate.Before(l.StartDate) {
		return dErrors.New(dErrors.CodeInvariantViolation, "end date cannot be before start date")
	}
	if l.Days() > MaxLeaveDays {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("leave cannot span more than %d days", MaxLeaveDays))
	}
	if err := checkText("reason", l.Reason, true); err != nil {
		return err
	}
	if err := checkText("additional notes", l.AdditionalNotes, false); err != nil {
		return err
	}
	if l.StandIn != nil {
		if l.StandIn.LocumID.IsNil() {
			return dErrors.New(dErrors.CodeInvariantViolation, "stand-in requires a locum")
		}
		if l.StandIn.DailyRateCents < 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "stand-in daily rate cannot be negative")
		}
		if l.StandIn.DailyRateCents > MaxDailyRateCents {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("stand-in daily rate cannot exceed %d cents", MaxDailyRateCents))
		}
	}
	return nil
}

func (l *Leave) AllowsStatus(s Status) bool { return s.IsValid() }

func (l *Leave) NeedsFinance(FinancePolicy) bool { return l.StandIn.Billable() }

// Days counts calendar days covered, both ends inclusive.
func (l *Leave) Days() int {
	start := truncateDay(l.StartDate)
	end := truncateDay(l.EndDate)
	return int(end.Sub(start).Hours()/24) + 1
}

func (l *Leave) ApplyEdit(e ContentEdit) error {
	switch {
	case e.Title != nil:
		return notEditable(VariantLeave, "title")
	case e.Description != nil:
		return notEditable(VariantLeave, "description")
	case e.Location != nil:
		return notEditable(VariantLeave, "location")
	case e.Justification != nil:
		return notEditable(VariantLeave, "justification")
	}
	next := *l
	if e.Reason != nil {
		next.Reason = *e.Reason
	}
	if e.AdditionalNotes != nil {
		next.AdditionalNotes = *e.AdditionalNotes
	}
	if e.StartDate != nil {
		next.StartDate = *e.StartDate
	}
	if e.EndDate != nil {
		next.EndDate = *e.EndDate
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*l = next
	return nil
}

func (l *Leave) clone() Details {
	c := *l
	if l.StandIn != nil {
		s := *l.StandIn
		c.StandIn = &s
	}
	return &c
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// -----------------------------------------------------------------------------
// Incident
// -----------------------------------------------------------------------------

type IncidentCategory string

const (
	IncidentSafety   IncidentCategory = "SAFETY"
	IncidentHR       IncidentCategory = "HR"
	IncidentFacility IncidentCategory = "FACILITY"
	IncidentIT       IncidentCategory = "IT"
	IncidentOther    IncidentCategory = "OTHER"
)

func (c IncidentCategory) IsValid() bool {
	switch c {
	case IncidentSafety, IncidentHR, IncidentFacility, IncidentIT, IncidentOther:
		return true
	}
	return false
}

// Severity is shared by incident severity and operation urgency.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Incident struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Location    string           `json:"location,omitempty"`
	Category    IncidentCategory `json:"category"`
	Severity    Severity         `json:"severity"`
}

func (i *Incident) Variant() Variant { return VariantIncident }

func (i *Incident) Validate() error {
	if err := checkText("title", i.Title, true); err != nil {
		return err
	}
	if err := checkText("description", i.Description, true); err != nil {
		return err
	}
	if err := checkText("location", i.Location, false); err != nil {
		return err
	}
	if !i.Category.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid incident category")
	}
	if !i.Severity.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid incident severity")
	}
	return nil
}

func (i *Incident) AllowsStatus(s Status) bool { return s.IsValid() }

func (i *Incident) NeedsFinance(FinancePolicy) bool { return false }

func (i *Incident) ApplyEdit(e ContentEdit) error {
	switch {
	case e.Reason != nil:
		return notEditable(VariantIncident, "reason")
	case e.AdditionalNotes != nil:
		return notEditable(VariantIncident, "additional notes")
	case e.StartDate != nil, e.EndDate != nil:
		return notEditable(VariantIncident, "dates")
	case e.Justification != nil:
		return notEditable(VariantIncident, "justification")
	}
	next := *i
	if e.Title != nil {
		next.Title = *e.Title
	}
	if e.Description != nil {
		next.Description = *e.Description
	}
	if e.Location != nil {
		next.Location = *e.Location
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*i = next
	return nil
}

func (i *Incident) clone() Details {
	c := *i
	return &c
}

// -----------------------------------------------------------------------------
// Operation
// -----------------------------------------------------------------------------

type Operation struct {
	ItemName           string   `json:"item_name"`
	Description        string   `json:"description,omitempty"`
	Justification      string   `json:"justification"`
	Urgency            Severity `json:"urgency"`
	EstimatedCostCents int64    `json:"estimated_cost_cents"`
	RequiresFinance    bool     `json:"requires_finance"`
}

func (o *Operation) Variant() Variant { return VariantOperation }

func (o *Operation) Validate() error {
	if err := checkText("item name", o.ItemName, true); err != nil {
		return err
	}
	if err := checkText("justification", o.Justification, true); err != nil {
		return err
	}
	if err := checkText("description", o.Description, false); err != nil {
		return err
	}
	if !o.Urgency.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid urgency")
	}
	if o.EstimatedCostCents < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "estimated cost cannot be negative")
	}
	return nil
}

// Operations have no cancel path.
func (o *Operation) AllowsStatus(s Status) bool {
	return s.IsValid() && s != StatusCancelled
}

func (o *Operation) NeedsFinance(policy FinancePolicy) bool {
	return o.RequiresFinance || policy.exceeded(o.EstimatedCostCents)
}

func (o *Operation) ApplyEdit(e ContentEdit) error {
	switch {
	case e.Reason != nil:
		return notEditable(VariantOperation, "reason")
	case e.AdditionalNotes != nil:
		return notEditable(VariantOperation, "additional notes")
	case e.StartDate != nil, e.EndDate != nil:
		return notEditable(VariantOperation, "dates")
	case e.Title != nil:
		return notEditable(VariantOperation, "title")
	case e.Location != nil:
		return notEditable(VariantOperation, "location")
	}
	next := *o
	if e.Description != nil {
		next.Description = *e.Description
	}
	if e.Justification != nil {
		next.Justification = *e.Justification
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*o = next
	return nil
}

func (o *Operation) clone() Details {
	c := *o
	return &c
}
