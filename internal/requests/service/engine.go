package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"opsflow/internal/access"
	"opsflow/internal/audit"
	"opsflow/internal/notification"
	"opsflow/internal/requests/metrics"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/requestcontext"
)

// Dispatcher hands committed notifications to the transport. It must not
// fail the caller.
type Dispatcher interface {
	Deliver(ctx context.Context, batch []notification.Notification) int
}

// TransitionCommand asks to move one request from From to To.
// Level is the chain level the caller read before deciding and is required for
// approve and reject. Reason is required for rejections.
type TransitionCommand struct {
	RequestID id.RequestID
	Actor     access.Actor
	From      models.Status
	To        models.Status
	Level     models.Level
	Reason    string
	Comments  string
}

// Engine applies status transitions. Everything a transition writes (the
// request row, one approval, one audit entry, one notification and any
// billing records) commits in a single StoreTx call or not at all.
type Engine struct {
	tx         StoreTx
	matrix     *access.Matrix
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// outcome is what a transition body hands back to the caller after commit.
type outcome struct {
	detail *models.RequestDetail
	notify []notification.Notification
}

func (e *Engine) Transition(ctx context.Context, cmd TransitionCommand) (*models.RequestDetail, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "requests.Transition", trace.WithAttributes(
		attribute.String("request.id", cmd.RequestID.String()),
		attribute.String("transition.from", string(cmd.From)),
		attribute.String("transition.to", string(cmd.To)),
		attribute.String("actor.role", string(cmd.Actor.Role)),
	))
	defer span.End()

	var (
		out     outcome
		variant string
	)
	err := validateCommand(cmd)
	if err == nil {
		err = e.tx.RunInTx(ctx, cmd.RequestID, func(ctx context.Context, s Stores) error {
			res, err := e.apply(ctx, s, cmd)
			if res != nil {
				variant = string(res.detail.Request.Variant())
				out = *res
			}
			return err
		})
		err = translate(err, "request not found")
	}

	if err != nil {
		code := dErrors.CodeOf(err)
		e.metrics.ObserveTransition(variant, string(cmd.To), string(code), start)
		span.SetStatus(codes.Error, string(code))
		e.logRejected(ctx, cmd, err)
		return nil, err
	}
	e.metrics.ObserveTransition(variant, string(cmd.To), "ok", start)
	span.SetStatus(codes.Ok, "")

	if e.dispatcher != nil && len(out.notify) > 0 {
		e.dispatcher.Deliver(ctx, out.notify)
	}
	return out.detail, nil
}

func validateCommand(cmd TransitionCommand) error {
	if !cmd.To.IsValid() || !cmd.From.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown status")
	}
	if !cmd.From.CanTransitionTo(cmd.To) {
		return dErrors.New(dErrors.CodeValidation, "transition from "+string(cmd.From)+" to "+string(cmd.To)+" is not allowed")
	}
	if cmd.To == models.StatusRejected && strings.TrimSpace(cmd.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	if cmd.To == models.StatusApproved || cmd.To == models.StatusRejected {
		if cmd.Level == "" {
			return dErrors.New(dErrors.CodeValidation, "approval level is required")
		}
	}
	if cmd.Level != "" && !cmd.Level.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown approval level")
	}
	return nil
}

// apply runs inside the transaction. Checks run in a fixed order so that a
// caller without rights learns nothing about request state.
func (e *Engine) apply(ctx context.Context, s Stores, cmd TransitionCommand) (*outcome, error) {
	req, err := s.Requests.FindByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.Approvals.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(cmd, req); err != nil {
		return nil, err
	}
	if req.Status != cmd.From {
		return nil, dErrors.New(dErrors.CodeConflict, "request is "+string(req.Status)+", expected "+string(cmd.From))
	}
	if err := req.CanTransition(cmd.To); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	res := &outcome{}
	entry := &audit.Entry{
		RequestID: req.ID,
		ActorID:   cmd.Actor.ID,
		Timestamp: now,
		Details:   map[string]any{"from": string(cmd.From)},
	}

	switch cmd.To {
	case models.StatusApproved, models.StatusRejected:
		approval, advanced, err := e.decide(ctx, s, cmd, req, approvals, now)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *approval)
		entry.Details["level"] = string(approval.Level)
		entry.Details["order"] = approval.Order
		if approval.Comments != "" {
			entry.Details["comments"] = approval.Comments
		}
		if advanced != "" {
			// Intermediate level: the request stays PENDING but its version
			// still moves so concurrent approvers at this level lose.
			req.UpdatedAt = now
			entry.Action = auditAction(req.Variant(), eventApprovalRecorded)
			entry.Details["next_level"] = string(advanced)
			res.notify = append(res.notify, notification.New(req.RequesterID, req.ID, levelMessage(req.Variant(), approval.Level, advanced), now))
		} else {
			req.ApplyStatus(cmd.To, now)
			entry.Action = auditAction(req.Variant(), string(cmd.To))
			res.notify = append(res.notify, notification.New(req.RequesterID, req.ID, statusMessage(req.Variant(), cmd.To, cmd.Reason), now))
		}
	case models.StatusCancelled:
		req.ApplyStatus(cmd.To, now)
		entry.Action = auditAction(req.Variant(), string(cmd.To))
		res.notify = append(res.notify, notification.New(req.RequesterID, req.ID, statusMessage(req.Variant(), cmd.To, ""), now))
	case models.StatusCompleted:
		req.ApplyStatus(cmd.To, now)
		entry.Action = auditAction(req.Variant(), string(cmd.To))
		b, ok, err := models.NewLeaveBilling(req, now)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := s.Billing.Record(ctx, b); err != nil {
				return nil, err
			}
			entry.Details["invoice_id"] = b.Invoice.ID.String()
			entry.Details["amount_cents"] = b.Invoice.AmountCents
		}
		res.notify = append(res.notify, notification.New(req.RequesterID, req.ID, statusMessage(req.Variant(), cmd.To, ""), now))
	}
	entry.Details["to"] = string(req.Status)

	if err := s.Requests.Update(ctx, req); err != nil {
		return nil, err
	}
	if err := appendAudit(ctx, s, entry); err != nil {
		return nil, err
	}
	for _, n := range res.notify {
		if err := s.Notifications.Enqueue(ctx, n); err != nil {
			return nil, err
		}
	}
	res.detail = models.NewRequestDetail(req, approvals)
	return res, nil
}

// authorize checks the actor's right to drive the request into cmd.To.
func (e *Engine) authorize(cmd TransitionCommand, req *models.Request) error {
	switch cmd.To {
	case models.StatusCancelled:
		if cmd.Actor.ID != req.RequesterID {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can cancel this request")
		}
		return nil
	case models.StatusCompleted:
		if cmd.Actor.Role != access.RoleSystem {
			return dErrors.New(dErrors.CodeForbidden, "completion is system-triggered")
		}
		return nil
	}
	perm, _ := models.PermissionFor(cmd.To)
	if !e.matrix.HasPermission(cmd.Actor.Role, req.Resource(), perm) {
		return dErrors.New(dErrors.CodeForbidden, "not authorized to "+string(perm)+" "+string(req.Resource())+" requests")
	}
	if cmd.Actor.ID == req.RequesterID {
		return dErrors.New(dErrors.CodeForbidden, "requesters cannot decide their own request")
	}
	return nil
}

// decide records an approve or reject decision at cmd.Level, which must still
// be the current level when the transaction reads the request. advanced
// is the next level when an approval leaves more of the chain to clear.
func (e *Engine) decide(
	ctx context.Context,
	s Stores,
	cmd TransitionCommand,
	req *models.Request,
	approvals []models.Approval,
	now time.Time,
) (*models.Approval, models.Level, error) {
	current, ok := models.CurrentLevel(req.Chain, approvals)
	if !ok {
		return nil, "", dErrors.New(dErrors.CodeConflict, "every approval level is already cleared")
	}
	level := cmd.Level
	if !req.Chain.Contains(level) {
		return nil, "", dErrors.New(dErrors.CodeValidation, "level "+string(level)+" is not part of this request's approval chain")
	}
	if level != current {
		return nil, "", dErrors.New(dErrors.CodeConflict, "request is awaiting "+string(current)+", not "+string(level))
	}
	if !level.Admits(cmd.Actor, req.Department) {
		return nil, "", dErrors.New(dErrors.CodeForbidden, "not eligible to act at "+string(level))
	}

	action, comments := models.ActionApprove, cmd.Comments
	if cmd.To == models.StatusRejected {
		action, comments = models.ActionReject, cmd.Reason
	}
	approval, err := models.NewApproval(id.NewApprovalID(), req.ID, cmd.Actor.ID, level, action, comments, models.NextOrder(approvals), now)
	if err != nil {
		return nil, "", err
	}
	if err := s.Approvals.Append(ctx, approval); err != nil {
		return nil, "", err
	}

	if action == models.ActionApprove {
		if next, more := models.CurrentLevel(req.Chain, append(approvals, *approval)); more {
			return approval, next, nil
		}
	}
	return approval, "", nil
}

// logRejected logs refused transitions. Forbidden attempts carry only the
// actor's id and role.
func (e *Engine) logRejected(ctx context.Context, cmd TransitionCommand, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"target_request", cmd.RequestID.String(),
		"to_status", string(cmd.To),
		"actor_id", cmd.Actor.ID.String(),
		"actor_role", string(cmd.Actor.Role),
		"error", err,
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnavailable, dErrors.CodeInternal, dErrors.CodeTimeout:
		e.logger.ErrorContext(ctx, "transition failed", attrs...)
	case dErrors.CodeForbidden:
		e.logger.WarnContext(ctx, "transition denied", attrs...)
	default:
		e.logger.InfoContext(ctx, "transition refused", attrs...)
	}
}
