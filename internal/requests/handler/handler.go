// Package handler exposes the request workflow over HTTP. Every route except
// the completion hook runs as the authenticated actor.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opsflow/internal/access"
	"opsflow/internal/identity"
	"opsflow/internal/requests/models"
	"opsflow/internal/requests/service"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/httputil"
	"opsflow/pkg/requestcontext"
)

// Service is the workflow surface the handler drives.
type Service interface {
	SubmitLeave(ctx context.Context, actor access.Actor, leave *models.Leave) (*models.Request, error)
	SubmitIncident(ctx context.Context, actor access.Actor, incident *models.Incident) (*models.Request, error)
	SubmitOperation(ctx context.Context, actor access.Actor, op *models.Operation) (*models.Request, error)
	ListMine(ctx context.Context, actor access.Actor, filter models.ListFilter) (*models.Page, error)
	ListForReview(ctx context.Context, actor access.Actor, filter models.ListFilter) (*models.Page, error)
	Get(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.RequestDetail, error)
	UpdatePending(ctx context.Context, actor access.Actor, requestID id.RequestID, edit models.ContentEdit) (*models.Request, error)
	Approve(ctx context.Context, actor access.Actor, requestID id.RequestID, level models.Level, comments string) (*models.RequestDetail, error)
	Reject(ctx context.Context, actor access.Actor, requestID id.RequestID, level models.Level, reason string) (*models.RequestDetail, error)
	Cancel(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.RequestDetail, error)
	CompleteDueLeaves(ctx context.Context, now time.Time) (*service.CompletionReport, error)
}

var _ Service = (*service.Service)(nil)

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the actor-facing routes. The caller installs RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/leave", h.handleSubmitLeave)
	r.Post("/v1/incident", h.handleSubmitIncident)
	r.Post("/v1/operation", h.handleSubmitOperation)
	r.Get("/v1/requests/mine", h.handleListMine)
	r.Get("/v1/requests/review", h.handleListForReview)
	r.Get("/v1/requests/{id}", h.handleGet)
	r.Patch("/v1/requests/{id}", h.handleUpdate)
	r.Post("/v1/requests/{id}/approve", h.handleApprove)
	r.Post("/v1/requests/{id}/reject", h.handleReject)
	r.Post("/v1/requests/{id}/cancel", h.handleCancel)
}

// RegisterInternal mounts the scheduler hook. The caller installs the admin
// token check.
func (h *Handler) RegisterInternal(r chi.Router) {
	r.Post("/internal/completions", h.handleCompleteDue)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	actor, ok := identity.ActorFrom(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "actor missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return access.Actor{}, false
	}
	return actor, true
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return id.RequestID{}, false
	}
	return requestID, true
}

// fail logs at a level matching the error class and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	attrs := []any{"error", err, "request_id", requestcontext.RequestID(ctx)}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, op+" failed", attrs...)
	default:
		h.logger.WarnContext(ctx, op+" rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) handleSubmitLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[LeaveRequest](w, r, h.logger)
	if !ok {
		return
	}
	leave, err := body.ToModel()
	if err != nil {
		h.fail(w, r, "submit leave", err)
		return
	}
	req, err := h.svc.SubmitLeave(r.Context(), actor, leave)
	if err != nil {
		h.fail(w, r, "submit leave", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(req))
}

func (h *Handler) handleSubmitIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[IncidentRequest](w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.svc.SubmitIncident(r.Context(), actor, body.ToModel())
	if err != nil {
		h.fail(w, r, "submit incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(req))
}

func (h *Handler) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[OperationRequest](w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.svc.SubmitOperation(r.Context(), actor, body.ToModel())
	if err != nil {
		h.fail(w, r, "submit operation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(req))
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list own requests", h.svc.ListMine)
}

func (h *Handler) handleListForReview(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list review queue", h.svc.ListForReview)
}

func (h *Handler) list(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, access.Actor, models.ListFilter) (*models.Page, error),
) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	page, err := fn(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPage(page))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Get(r.Context(), actor, requestID)
	if err != nil {
		h.fail(w, r, "get request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDetail(detail))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[UpdateRequest](w, r, h.logger)
	if !ok {
		return
	}
	edit, err := body.ToEdit()
	if err != nil {
		h.fail(w, r, "update request", err)
		return
	}
	req, err := h.svc.UpdatePending(r.Context(), actor, requestID, edit)
	if err != nil {
		h.fail(w, r, "update request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(req))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "approve request", func(ctx context.Context, actor access.Actor, requestID id.RequestID, body *DecisionRequest, level models.Level) (*models.RequestDetail, error) {
		return h.svc.Approve(ctx, actor, requestID, level, body.Comments)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject request", func(ctx context.Context, actor access.Actor, requestID id.RequestID, body *DecisionRequest, level models.Level) (*models.RequestDetail, error) {
		return h.svc.Reject(ctx, actor, requestID, level, body.Reason)
	})
}

type decideFunc func(ctx context.Context, actor access.Actor, requestID id.RequestID, body *DecisionRequest, level models.Level) (*models.RequestDetail, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op string, fn decideFunc) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[DecisionRequest](w, r, h.logger)
	if !ok {
		return
	}
	level, err := body.ParsedLevel()
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	detail, err := fn(r.Context(), actor, requestID, body, level)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDetail(detail))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Cancel(r.Context(), actor, requestID)
	if err != nil {
		h.fail(w, r, "cancel request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDetail(detail))
}

// handleCompleteDue runs the completion sweep. ?date=YYYY-MM-DD overrides
// the request clock.
func (h *Handler) handleCompleteDue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := requestcontext.Now(ctx)
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := parseDate("date", raw)
		if err != nil {
			h.fail(w, r, "complete due leaves", err)
			return
		}
		now = day
	}
	report, err := h.svc.CompleteDueLeaves(ctx, now)
	if err != nil {
		h.fail(w, r, "complete due leaves", err)
		return
	}
	h.logger.InfoContext(ctx, "completion hook ran",
		"request_id", requestcontext.RequestID(ctx),
		"completed", len(report.Completed),
	)
	httputil.WriteJSON(w, http.StatusOK, FromCompletionReport(report))
}
