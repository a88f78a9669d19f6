package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "opsflow/pkg/domain"
)

//go:generate mockgen -source=transport.go -destination=mocks/mocks.go -package=mocks Transport

// Transport delivers one message to one recipient.
type Transport interface {
	Send(ctx context.Context, recipient id.UserID, message string) error
}

const inboxCap = 200

// RedisTransport pushes each message onto the recipient's capped inbox list
// and publishes it on a channel for live subscribers.
type RedisTransport struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisTransport(client redis.UniversalClient, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

type wireMessage struct {
	RecipientID string    `json:"recipient_id"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

// InboxKey is the list holding recipient's recent messages.
func InboxKey(recipient id.UserID) string {
	return "notifications:inbox:" + recipient.String()
}

func (t *RedisTransport) Send(ctx context.Context, recipient id.UserID, message string) error {
	payload, err := json.Marshal(wireMessage{RecipientID: recipient.String(), Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := InboxKey(recipient)
	pipe := t.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, inboxCap-1)
	pipe.Publish(ctx, t.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notification send: %w", err)
	}
	return nil
}

// LogTransport only logs. It stands in when Redis is not configured.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, recipient id.UserID, message string) error {
	t.logger.InfoContext(ctx, "notification", "recipient_id", recipient.String(), "message", message)
	return nil
}
