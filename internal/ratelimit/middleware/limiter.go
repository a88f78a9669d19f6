package middleware

import (
	"context"
	"log/slog"
	"time"

	"opsflow/internal/ratelimit/metrics"
	"opsflow/internal/ratelimit/models"
	"opsflow/internal/ratelimit/store/bucket"
	"opsflow/pkg/platform/circuit"
)

// Store counts requests for a key. bucket.InMemory and bucket.Redis satisfy it.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Limiter checks the primary store and falls back to process memory while the
// breaker is open. Answers from the fallback are marked Degraded.
type Limiter struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type LimiterOption func(*Limiter)

func WithBreaker(b *circuit.Breaker) LimiterOption {
	return func(l *Limiter) { l.breaker = b }
}

func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) { l.logger = logger }
}

func WithLimiterMetrics(m *metrics.Metrics) LimiterOption {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter builds a limiter over primary. A nil primary means the process
// runs alone and the in-memory store is authoritative.
func NewLimiter(primary Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: bucket.NewInMemory(),
		breaker:  circuit.New("ratelimit", circuit.WithCooldown(10*time.Second)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	if l.primary == nil {
		return l.fallback.Allow(ctx, key, limit.Requests, limit.Window)
	}
	if !l.breaker.Allow() {
		return l.degraded(ctx, key, limit)
	}

	res, err := l.primary.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		if _, change := l.breaker.RecordFailure(); change.Opened {
			l.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback",
				"breaker", l.breaker.Name(),
				"error", err,
			)
		}
		return l.degraded(ctx, key, limit)
	}
	if _, change := l.breaker.RecordSuccess(); change.Closed {
		l.logger.InfoContext(ctx, "rate limit store recovered", "breaker", l.breaker.Name())
	}
	return res, nil
}

func (l *Limiter) degraded(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	l.metrics.IncrementDegraded()
	res, err := l.fallback.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		return nil, err
	}
	res.Degraded = true
	return res, nil
}
