package out

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by every implementation.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// Record is the generic persisted shape. Kind partitions the key space
// (approval_pending, approval_resolved, thread, ...); Owner and Kind are the
// denormalized secondary-lookup keys.
type Record struct {
	Key       string     `json:"key" db:"key"`
	Kind      string     `json:"kind" db:"kind"`
	Owner     string     `json:"owner" db:"owner"`
	Value     []byte     `json:"value" db:"value"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Tx is the view of the store inside a multi-key transaction.
type Tx interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
}

// Store is the outbound port for durable key-value state. Any document or
// wide-column store with get/put/delete, a multi-key transactional write and
// secondary-index listing suffices.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error

	// InTx runs fn atomically; either every write inside fn lands or none do.
	// The approve/reject one-way transition depends on this.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// ListByOwner and ListByKind return records newest-first.
	ListByOwner(ctx context.Context, kind, owner string, limit int) ([]*Record, error)
	ListByKind(ctx context.Context, kind string, limit int) ([]*Record, error)
	CountByKind(ctx context.Context, kind string) (int, error)

	// DeleteBatch removes up to the storage layer's batch limit of keys.
	DeleteBatch(ctx context.Context, keys []string) error
}
