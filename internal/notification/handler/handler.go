// Package handler serves the authenticated actor's notification inbox.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"opsflow/internal/identity"
	"opsflow/internal/notification"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/httputil"
	"opsflow/pkg/platform/sentinel"
	"opsflow/pkg/requestcontext"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Handler struct {
	store  notification.Store
	logger *slog.Logger
}

func New(store notification.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the inbox routes. The caller installs RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/notifications", h.handleList)
	r.Post("/v1/notifications/{id}/read", h.handleMarkRead)
}

type listResponse struct {
	Items []notification.Notification `json:"items"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := identity.ActorFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxLimit)
	}
	items, err := h.store.ListByRecipient(ctx, actor.ID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list notifications",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "notifications unavailable"))
		return
	}
	if items == nil {
		items = []notification.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := identity.ActorFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid notification id"))
		return
	}
	// Another recipient's notification reads as missing.
	if err := h.store.MarkRead(ctx, notificationID, actor.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "notification not found"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to mark notification read",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "notifications unavailable"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
