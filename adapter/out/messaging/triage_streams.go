// Package messaging provides Redis Streams adapters for the triage
// pipeline's two collaborator boundaries: the inbound mailbox feed and the
// outbound action-intent queue.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// Stream names
const (
	// StreamInbox carries inbound messages from the mailbox collaborator.
	StreamInbox = "triage:inbox"

	// StreamActions carries intents to the action-execution collaborator.
	StreamActions = "triage:actions"
)

// RedisProducer publishes to the triage streams. It implements
// out.ActionPublisher for the pipeline and doubles as the inbox feeder for
// tools and tests.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// Publish hands an action intent to the execution stream.
func (p *RedisProducer) Publish(ctx context.Context, intent *out.ActionIntent) error {
	return p.publish(ctx, StreamActions, intent)
}

// PublishInbound pushes a message onto the inbox stream.
func (p *RedisProducer) PublishInbound(ctx context.Context, msg *domain.Message) error {
	return p.publish(ctx, StreamInbox, msg)
}

func (p *RedisProducer) publish(ctx context.Context, stream string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", stream, err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": data},
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}
