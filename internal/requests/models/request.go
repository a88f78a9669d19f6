package models

import (
	"encoding/json"
	"time"

	"opsflow/internal/access"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

// Request is the aggregate root: common lifecycle fields plus one typed
// Details payload per variant.
//
// Invariants:
//   - Status only moves forward along Status.Rank and never back to PENDING
//   - Chain is fixed at construction
//   - Details change only while PENDING and only by the requester
//   - Version increments on every persisted change and guards concurrent writes
type Request struct {
	ID          id.RequestID
	RequesterID id.UserID
	Department  string
	Status      Status
	Chain       Chain
	History     []StatusChange
	Details     Details
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

func NewRequest(requestID id.RequestID, requester access.Actor, details Details, policy FinancePolicy, now time.Time) (*Request, error) {
	if details == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request details are required")
	}
	if requester.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requester is required")
	}
	if err := details.Validate(); err != nil {
		return nil, err
	}
	return &Request{
		ID:          requestID,
		RequesterID: requester.ID,
		Department:  requester.Department,
		Status:      StatusPending,
		Chain:       BuildChain(details, policy),
		History:     []StatusChange{{Status: StatusPending, Timestamp: now}},
		Details:     details,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

func (r *Request) Variant() Variant {
	return r.Details.Variant()
}

func (r *Request) Resource() access.Resource {
	return r.Variant().Resource()
}

func (r *Request) Leave() (*Leave, bool) {
	l, ok := r.Details.(*Leave)
	return l, ok
}

// CanEdit checks that actor may change content fields right now.
func (r *Request) CanEdit(actorID id.UserID) error {
	if r.RequesterID != actorID {
		return dErrors.New(dErrors.CodeForbidden, "only the requester can edit this request")
	}
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeConflict, "request can only be edited while pending")
	}
	return nil
}

// CanTransition checks the lifecycle rule for moving into next.
func (r *Request) CanTransition(next Status) error {
	if !r.Details.AllowsStatus(next) {
		return dErrors.New(dErrors.CodeInvariantViolation, "status not supported for this request type")
	}
	if !r.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation, "transition from "+string(r.Status)+" to "+string(next)+" is not allowed")
	}
	return nil
}

// ApplyStatus moves the request to next and records it in the history.
// Call CanTransition first.
func (r *Request) ApplyStatus(next Status, now time.Time) {
	r.Status = next
	r.History = append(r.History, StatusChange{Status: next, Timestamp: now})
	r.UpdatedAt = now
}

// ApplyEdit changes content fields. Call CanEdit first.
func (r *Request) ApplyEdit(edit ContentEdit, now time.Time) error {
	if err := r.Details.ApplyEdit(edit); err != nil {
		return err
	}
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores never hand out shared mutable state.
func (r *Request) Clone() *Request {
	c := *r
	c.Chain = append(Chain(nil), r.Chain...)
	c.History = append([]StatusChange(nil), r.History...)
	c.Details = r.Details.clone()
	return &c
}

// DecodeDetails rebuilds the typed payload from its stored JSON form.
func DecodeDetails(v Variant, raw []byte) (Details, error) {
	var d Details
	switch v {
	case VariantLeave:
		d = &Leave{}
	case VariantIncident:
		d = &Incident{}
	case VariantOperation:
		d = &Operation{}
	default:
		return nil, dErrors.New(dErrors.CodeInternal, "unknown stored request type "+string(v))
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode request details")
	}
	return d, nil
}

// RequestDetail is a request with its approvals and derived current level.
type RequestDetail struct {
	Request      *Request
	Approvals    []Approval
	CurrentLevel *Level
}

func NewRequestDetail(req *Request, approvals []Approval) *RequestDetail {
	detail := &RequestDetail{Request: req, Approvals: approvals}
	if req.Status == StatusPending {
		if lvl, ok := CurrentLevel(req.Chain, approvals); ok {
			detail.CurrentLevel = &lvl
		}
	}
	return detail
}
