// Package relay ships committed audit entries from the outbox table to Kafka.
// Delivery is at-least-once: entries are marked published only after the
// broker acknowledges them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"opsflow/internal/audit"
)

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks Producer

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

type Relay struct {
	outbox    audit.Outbox
	producer  Producer
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func New(outbox audit.Outbox, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		topic:     topic,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. Batch failures are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "audit relay batch failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce relays one batch and returns how many entries were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("opsflow/audit/relay").Start(ctx, "audit.relay.batch")
	defer span.End()

	entries, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list unpublished")
		return 0, fmt.Errorf("list unpublished audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal audit entry %d: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(e.RequestID.String()),
			Value: payload,
			Headers: []kgo.RecordHeader{
				{Key: "action", Value: []byte(e.Action)},
			},
		})
		ids = append(ids, e.ID)
	}

	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "produce")
		return 0, fmt.Errorf("produce audit entries: %w", err)
	}
	if err := r.outbox.MarkPublished(ctx, ids, r.now()); err != nil {
		return 0, fmt.Errorf("mark audit entries published: %w", err)
	}

	span.SetAttributes(attribute.Int("audit.relayed", len(ids)))
	r.logger.DebugContext(ctx, "audit entries relayed", "count", len(ids))
	return len(ids), nil
}
