package notification

import (
	"context"
	"log/slog"
	"time"
)

const retryBatch = 100

// Dispatcher delivers committed notifications. It never returns delivery
// errors to the caller; failures are logged, counted and left unsent so a
// later sweep can retry.
type Dispatcher struct {
	store     Store
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, transport: transport, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends each notification once and reports how many went out.
func (d *Dispatcher) Deliver(ctx context.Context, batch []Notification) int {
	sent := 0
	for _, n := range batch {
		if err := d.transport.Send(ctx, n.RecipientID, n.Message); err != nil {
			d.metrics.IncFailed()
			d.logger.WarnContext(ctx, "notification delivery failed",
				"notification_id", n.ID.String(),
				"request_id", n.RequestID.String(),
				"error", err,
			)
			continue
		}
		if err := d.store.MarkSent(ctx, n.ID, d.now()); err != nil {
			d.logger.WarnContext(ctx, "failed to mark notification sent",
				"notification_id", n.ID.String(),
				"error", err,
			)
		}
		d.metrics.IncSent()
		sent++
	}
	return sent
}

// RetryPending re-sends notifications still marked unsent.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	pending, err := d.store.ListUnsent(ctx, retryBatch)
	if err != nil {
		return 0, err
	}
	return d.Deliver(ctx, pending), nil
}

// Run retries pending notifications every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RetryPending(ctx); err != nil {
				d.logger.WarnContext(ctx, "notification retry sweep failed", "error", err)
			}
		}
	}
}
