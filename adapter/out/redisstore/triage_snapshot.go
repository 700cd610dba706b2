// Package redisstore implements Redis-backed outbound adapters: the dedup
// snapshot store and the classification rate limiter.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"triage_server/core/port/out"
)

const snapshotKey = "triage:dedup:snapshot"

// SnapshotStore persists the dedup index as a single Redis value. The TTL
// tracks the dedup window; a snapshot older than the window is worthless
// anyway.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore creates a snapshot store. ttl should match the dedup TTL.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

// Save stores the serialized snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snapshot []byte) error {
	if err := s.client.Set(ctx, snapshotKey, snapshot, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save dedup snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or out.ErrNotFound when none exists.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, out.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup snapshot: %w", err)
	}
	return data, nil
}
