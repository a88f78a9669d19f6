package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"opsflow/internal/access"
	"opsflow/internal/audit"
	"opsflow/internal/requests/metrics"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/requestcontext"
)

const completionBatch = 100

// Service is the calling-layer contract for requests: one method per
// entity action. Status changes go through the Engine.
type Service struct {
	requests   RequestRepository
	approvals  ApprovalStore
	tx         StoreTx
	matrix     *access.Matrix
	policy     models.FinancePolicy
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	engine     *Engine
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithFinancePolicy(p models.FinancePolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithMatrix(m *access.Matrix) Option {
	return func(s *Service) { s.matrix = m }
}

// New constructs a Service. requests and approvals serve reads outside
// transactions; tx serves every write.
func New(requests RequestRepository, approvals ApprovalStore, tx StoreTx, opts ...Option) *Service {
	s := &Service{
		requests:  requests,
		approvals: approvals,
		tx:        tx,
		matrix:    access.NewDefaultMatrix(),
		policy:    models.DefaultFinancePolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = &Engine{
		tx:         tx,
		matrix:     s.matrix,
		dispatcher: s.dispatcher,
		logger:     s.logger,
		metrics:    s.metrics,
		tracer:     otel.Tracer("opsflow/requests"),
	}
	return s
}

// Engine exposes the transition engine for callers that drive raw transitions.
func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) SubmitLeave(ctx context.Context, actor access.Actor, leave *models.Leave) (*models.Request, error) {
	return s.submit(ctx, actor, leave)
}

func (s *Service) SubmitIncident(ctx context.Context, actor access.Actor, incident *models.Incident) (*models.Request, error) {
	return s.submit(ctx, actor, incident)
}

func (s *Service) SubmitOperation(ctx context.Context, actor access.Actor, op *models.Operation) (*models.Request, error) {
	return s.submit(ctx, actor, op)
}

func (s *Service) submit(ctx context.Context, actor access.Actor, details models.Details) (*models.Request, error) {
	resource := details.Variant().Resource()
	if !s.matrix.HasPermission(actor.Role, resource, access.PermCreate) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to create "+string(resource)+" requests")
	}
	now := requestcontext.Now(ctx)
	req, err := models.NewRequest(id.NewRequestID(), actor, details, s.policy, now)
	if err != nil {
		return nil, translate(err, "")
	}

	err = s.tx.RunInTx(ctx, req.ID, func(ctx context.Context, st Stores) error {
		if err := st.Requests.Create(ctx, req); err != nil {
			return err
		}
		chain := make([]string, len(req.Chain))
		for i, lvl := range req.Chain {
			chain[i] = string(lvl)
		}
		return appendAudit(ctx, st, &audit.Entry{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    auditAction(req.Variant(), eventCreated),
			Details:   map[string]any{"chain": chain},
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, translate(err, "request not found")
	}
	s.metrics.IncrementSubmitted(string(req.Variant()))
	s.logger.InfoContext(ctx, "request submitted",
		"request_id", requestcontext.RequestID(ctx),
		"target_request", req.ID.String(),
		"variant", string(req.Variant()),
		"chain_length", len(req.Chain),
	)
	return req, nil
}

// ListMine pages through the actor's own requests.
func (s *Service) ListMine(ctx context.Context, actor access.Actor, filter models.ListFilter) (*models.Page, error) {
	filter.RequesterID = actor.ID
	filter.Department = ""
	page, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, translate(err, "")
	}
	return page, nil
}

// ListForReview pages through requests the actor can decide on. Supervisors
// see their own department only. Status defaults to PENDING.
func (s *Service) ListForReview(ctx context.Context, actor access.Actor, filter models.ListFilter) (*models.Page, error) {
	reviewable := s.reviewableVariants(actor.Role)
	if len(reviewable) == 0 {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to review requests")
	}
	if len(filter.Variants) == 0 {
		filter.Variants = reviewable
	} else {
		for _, v := range filter.Variants {
			if !s.canReview(actor.Role, v) {
				return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to review "+string(v.Resource())+" requests")
			}
		}
	}
	if filter.Status == "" {
		filter.Status = models.StatusPending
	}
	filter.RequesterID = id.UserID{}
	filter.Department = ""
	if actor.Role == access.RoleSupervisor {
		filter.Department = actor.Department
	}
	page, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, translate(err, "")
	}
	return page, nil
}

func (s *Service) reviewableVariants(role access.Role) []models.Variant {
	var out []models.Variant
	for _, v := range []models.Variant{models.VariantLeave, models.VariantIncident, models.VariantOperation} {
		if s.canReview(role, v) {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) canReview(role access.Role, v models.Variant) bool {
	return s.matrix.HasAnyPermission(role, v.Resource(), access.PermApprove, access.PermReject)
}

// Get returns a request with its approvals and derived current level. The
// requester and anyone who may decide on it can read it.
func (s *Service) Get(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.RequestDetail, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, translate(err, "request not found")
	}
	if !s.canView(actor, req) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to view this request")
	}
	approvals, err := s.approvals.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, translate(err, "request not found")
	}
	return models.NewRequestDetail(req, approvals), nil
}

func (s *Service) canView(actor access.Actor, req *models.Request) bool {
	if actor.ID == req.RequesterID {
		return true
	}
	if !s.canReview(actor.Role, req.Variant()) {
		return false
	}
	if actor.Role == access.RoleSupervisor {
		return actor.Department != "" && actor.Department == req.Department
	}
	return true
}

// UpdatePending edits content fields of a PENDING request. Only the requester
// may do it. It writes an audit entry and no approval.
func (s *Service) UpdatePending(ctx context.Context, actor access.Actor, requestID id.RequestID, edit models.ContentEdit) (*models.Request, error) {
	if edit.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeValidation, "no fields to update")
	}
	var updated *models.Request
	err := s.tx.RunInTx(ctx, requestID, func(ctx context.Context, st Stores) error {
		req, err := st.Requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := req.CanEdit(actor.ID); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		if err := req.ApplyEdit(edit, now); err != nil {
			return err
		}
		if err := st.Requests.Update(ctx, req); err != nil {
			return err
		}
		updated = req
		return appendAudit(ctx, st, &audit.Entry{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    auditAction(req.Variant(), eventUpdated),
			Details:   map[string]any{"fields": editedFields(edit)},
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, translate(err, "request not found")
	}
	return updated, nil
}

func editedFields(e models.ContentEdit) []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(e.Reason != nil, "reason")
	add(e.AdditionalNotes != nil, "additional_notes")
	add(e.StartDate != nil, "start_date")
	add(e.EndDate != nil, "end_date")
	add(e.Title != nil, "title")
	add(e.Description != nil, "description")
	add(e.Location != nil, "location")
	add(e.Justification != nil, "justification")
	return out
}

// Approve records an approval at level, the level the actor saw as current.
// The request becomes APPROVED only when the last level clears.
func (s *Service) Approve(ctx context.Context, actor access.Actor, requestID id.RequestID, level models.Level, comments string) (*models.RequestDetail, error) {
	return s.engine.Transition(ctx, TransitionCommand{
		RequestID: requestID,
		Actor:     actor,
		From:      models.StatusPending,
		To:        models.StatusApproved,
		Level:     level,
		Comments:  comments,
	})
}

// Reject ends the request at level. level and reason are mandatory.
func (s *Service) Reject(ctx context.Context, actor access.Actor, requestID id.RequestID, level models.Level, reason string) (*models.RequestDetail, error) {
	return s.engine.Transition(ctx, TransitionCommand{
		RequestID: requestID,
		Actor:     actor,
		From:      models.StatusPending,
		To:        models.StatusRejected,
		Level:     level,
		Reason:    reason,
	})
}

// Cancel withdraws a PENDING leave or incident on behalf of its requester.
func (s *Service) Cancel(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.RequestDetail, error) {
	return s.engine.Transition(ctx, TransitionCommand{
		RequestID: requestID,
		Actor:     actor,
		From:      models.StatusPending,
		To:        models.StatusCancelled,
	})
}

// SystemActor is the identity completion runs under.
var SystemActor = access.Actor{Role: access.RoleSystem}

// Complete moves an APPROVED request to COMPLETED. Covered leaves get their
// billing records in the same transaction.
func (s *Service) Complete(ctx context.Context, requestID id.RequestID) (*models.RequestDetail, error) {
	return s.engine.Transition(ctx, TransitionCommand{
		RequestID: requestID,
		Actor:     SystemActor,
		From:      models.StatusApproved,
		To:        models.StatusCompleted,
	})
}

// CompletionReport summarizes one completion sweep.
type CompletionReport struct {
	Completed []id.RequestID `json:"completed"`
	Skipped   []id.RequestID `json:"skipped"`
}

// CompleteDueLeaves completes every APPROVED leave whose end date is before
// now's day. A leave that changed concurrently is skipped, not failed. The
// sweep pages past each batch by ID, so skipped leaves never hide later ones.
func (s *Service) CompleteDueLeaves(ctx context.Context, now time.Time) (*CompletionReport, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ctx = requestcontext.WithTime(ctx, now)
	report := &CompletionReport{}
	var after id.RequestID
	for {
		due, err := s.requests.ListLeavesEndedBefore(ctx, day, after, completionBatch)
		if err != nil {
			return report, translate(err, "")
		}
		for _, requestID := range due {
			after = requestID
			if _, err := s.Complete(ctx, requestID); err != nil {
				if dErrors.IsRetryable(err) && !dErrors.HasCode(err, dErrors.CodeUnavailable) {
					report.Skipped = append(report.Skipped, requestID)
					continue
				}
				s.metrics.IncrementCompletions(len(report.Completed))
				return report, err
			}
			report.Completed = append(report.Completed, requestID)
		}
		if len(due) < completionBatch {
			break
		}
	}
	s.metrics.IncrementCompletions(len(report.Completed))
	s.logger.InfoContext(ctx, "completion sweep finished",
		"completed", len(report.Completed),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

func appendAudit(ctx context.Context, st Stores, entry *audit.Entry) error {
	if err := st.Audit.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable, change aborted")
	}
	return nil
}
