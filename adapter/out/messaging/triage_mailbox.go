package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"

	"triage_server/core/domain"
	"triage_server/pkg/logger"
)

// StreamMailbox implements out.Mailbox over the inbox stream. Stream entry
// IDs are millisecond timestamps, so FetchSince maps directly onto XRANGE.
type StreamMailbox struct {
	client *redis.Client
	limit  int64
}

// NewStreamMailbox creates a mailbox reading at most limit messages per
// fetch.
func NewStreamMailbox(client *redis.Client, limit int64) *StreamMailbox {
	if limit <= 0 {
		limit = 100
	}
	return &StreamMailbox{client: client, limit: limit}
}

// FetchSince returns inbox messages published at or after since. Entries
// that fail to decode are logged and skipped rather than poisoning the
// batch.
func (m *StreamMailbox) FetchSince(ctx context.Context, since time.Time) ([]*domain.Message, error) {
	start := fmt.Sprintf("%d-0", since.UnixMilli())

	entries, err := m.client.XRangeN(ctx, StreamInbox, start, "+", m.limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox stream: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(entries))
	for _, entry := range entries {
		data, ok := entry.Values["data"].(string)
		if !ok {
			logger.Warn("mailbox: entry %s has no data field, skipping", entry.ID)
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			logger.Warn("mailbox: entry %s failed to decode: %v", entry.ID, err)
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}
