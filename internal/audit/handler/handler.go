// Package handler serves the admin view of the audit trail.
package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"opsflow/internal/access"
	"opsflow/internal/audit"
	"opsflow/internal/identity"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/httputil"
	"opsflow/pkg/requestcontext"
)

const dateLayout = "2006-01-02"

type Handler struct {
	reader audit.Reader
	matrix *access.Matrix
	logger *slog.Logger
}

func New(reader audit.Reader, matrix *access.Matrix, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, matrix: matrix, logger: logger}
}

// Register mounts the audit routes. The caller installs RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/audit", h.handleList)
}

// handleList pages through audit entries. Only ADMIN may read the trail, and
// only while it holds report:read.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := identity.ActorFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	if actor.Role != access.RoleAdmin || !h.matrix.HasPermission(actor.Role, access.ResourceReport, access.PermRead) {
		h.logger.WarnContext(ctx, "audit log access denied",
			"request_id", requestcontext.RequestID(ctx),
			"actor_id", actor.ID.String(),
			"actor_role", string(actor.Role),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "audit logs are restricted to administrators"))
		return
	}
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.reader.List(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit entries",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable"))
		return
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// parseQuery reads request_id, action, from, to, page and limit. from and to
// are calendar days in UTC and both are inclusive.
func parseQuery(v url.Values) (audit.Query, error) {
	var q audit.Query
	if raw := strings.TrimSpace(v.Get("request_id")); raw != "" {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeValidation, "request_id must be a UUID")
		}
		q.RequestID = requestID
	}
	q.Action = audit.Action(strings.ToUpper(strings.TrimSpace(v.Get("action"))))
	if raw := strings.TrimSpace(v.Get("from")); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeValidation, "from must be a date in YYYY-MM-DD form")
		}
		q.From = from
	}
	if raw := strings.TrimSpace(v.Get("to")); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeValidation, "to must be a date in YYYY-MM-DD form")
		}
		q.Until = to.AddDate(0, 0, 1)
	}
	if !q.From.IsZero() && !q.Until.IsZero() && !q.From.Before(q.Until) {
		return q, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	var err error
	if q.Page, err = positive(v, "page", audit.MaxPage); err != nil {
		return q, err
	}
	if q.Limit, err = positive(v, "limit", audit.MaxPageLimit); err != nil {
		return q, err
	}
	return q, nil
}

func positive(v url.Values, name string, maxValue int) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxValue {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be between 1 and "+strconv.Itoa(maxValue))
	}
	return n, nil
}
