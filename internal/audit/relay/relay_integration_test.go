//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"opsflow/internal/audit"
	"opsflow/internal/audit/relay"
	auditpostgres "opsflow/internal/audit/store/postgres"
	"opsflow/internal/platform/config"
	"opsflow/internal/platform/kafka"
	"opsflow/internal/platform/logger"
	id "opsflow/pkg/domain"
	"opsflow/pkg/testutil/containers"
)

func TestRelayPublishesOutboxToKafka(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	rp := containers.GetManager().GetRedpanda(t)
	ctx := context.Background()
	require.NoError(t, pg.TruncateTables(ctx, "audit_log"))

	const topic = "opsflow.audit.test"
	producer, err := kafka.NewProducer(config.KafkaConfig{Brokers: rp.Brokers, ClientID: "relay-test"})
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, producer, topic, 1, 1))

	store := auditpostgres.New(pg.DB)
	requestID := id.NewRequestID()
	actions := []audit.Action{"LEAVE_REQUEST_CREATED", "LEAVE_REQUEST_APPROVED"}
	for _, action := range actions {
		require.NoError(t, store.Append(ctx, &audit.Entry{
			RequestID: requestID,
			ActorID:   id.NewUserID(),
			Action:    action,
			Details:   map[string]any{"chain": []string{"LINE_MANAGER"}},
			Timestamp: time.Now().UTC(),
		}))
	}

	r := relay.New(store, producer, topic, relay.WithLogger(logger.Discard()))
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "relayed entries are stamped published")

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	consumer := rp.Consumer(t, topic)
	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var got []audit.Action
	for len(got) < len(actions) {
		fetches := consumer.PollFetches(pollCtx)
		require.NoError(t, pollCtx.Err(), "timed out waiting for audit records")
		fetches.EachRecord(func(rec *kgo.Record) {
			assert.Equal(t, requestID.String(), string(rec.Key))
			var e audit.Entry
			require.NoError(t, json.Unmarshal(rec.Value, &e))
			got = append(got, e.Action)
		})
	}
	assert.Equal(t, actions, got)
}
