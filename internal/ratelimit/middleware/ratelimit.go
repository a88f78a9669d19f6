// Package middleware enforces per-actor request budgets on authenticated
// routes.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"opsflow/internal/identity"
	"opsflow/internal/ratelimit/metrics"
	"opsflow/internal/ratelimit/models"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/httputil"
	"opsflow/pkg/requestcontext"
)

type Middleware struct {
	limiter *Limiter
	limits  map[models.EndpointClass]models.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mt }
}

func New(limiter *Limiter, limits map[models.EndpointClass]models.Limit, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, limits: limits, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerActor must run after RequireAuth. Requests without an actor, or whose
// class has no enabled limit, pass through. Limiter errors fail open.
func (m *Middleware) PerActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := identity.ActorFrom(ctx)
		class := models.ClassFor(r)
		limit, limited := m.limits[class]
		if !ok || !limited || !limit.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		res, err := m.limiter.Allow(ctx, models.ActorKey(actor.ID, class), limit)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, res)
		if !res.Allowed {
			m.metrics.IncrementDenied(string(class))
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"actor_id", actor.ID.String(),
				"class", string(class),
			)
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(requestcontext.Now(ctx))))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, res *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}
