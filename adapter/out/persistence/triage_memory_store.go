package persistence

import (
	"context"
	"sort"
	"sync"

	"triage_server/core/port/out"
)

// MemoryStore is an in-memory out.Store for tests and storage-less runs.
// Transactions stage writes and apply them on commit, so a failing fn leaves
// the store untouched.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*out.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*out.Record)}
}

func copyRecord(rec *out.Record) *out.Record {
	cp := *rec
	cp.Value = append([]byte(nil), rec.Value...)
	if rec.ExpiresAt != nil {
		t := *rec.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Get retrieves one record by key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*out.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, out.ErrNotFound
	}
	return copyRecord(rec), nil
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(ctx context.Context, rec *out.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Key] = copyRecord(rec)
	return nil
}

// Delete removes one record. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// InTx stages fn's writes and applies them only when fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx out.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		writes:  make(map[string]*out.Record),
		deletes: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key := range tx.deletes {
		delete(s.records, key)
	}
	for key, rec := range tx.writes {
		s.records[key] = rec
	}
	return nil
}

// ListByOwner lists records of one kind for one owner, newest first.
// limit <= 0 means unbounded.
func (s *MemoryStore) ListByOwner(ctx context.Context, kind, owner string, limit int) ([]*out.Record, error) {
	return s.list(func(rec *out.Record) bool {
		return rec.Kind == kind && rec.Owner == owner
	}, limit), nil
}

// ListByKind lists records of one kind, newest first. limit <= 0 means
// unbounded.
func (s *MemoryStore) ListByKind(ctx context.Context, kind string, limit int) ([]*out.Record, error) {
	return s.list(func(rec *out.Record) bool {
		return rec.Kind == kind
	}, limit), nil
}

// CountByKind counts records of one kind.
func (s *MemoryStore) CountByKind(ctx context.Context, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.Kind == kind {
			count++
		}
	}
	return count, nil
}

// DeleteBatch removes a batch of keys.
func (s *MemoryStore) DeleteBatch(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.records, key)
	}
	return nil
}

// Len reports the total record count, for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) list(match func(*out.Record) bool, limit int) []*out.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*out.Record
	for _, rec := range s.records {
		if match(rec) {
			recs = append(recs, copyRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Key > recs[j].Key
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// memoryTx buffers writes against the store until commit. Reads see staged
// writes first, then the committed state.
type memoryTx struct {
	store   *MemoryStore
	writes  map[string]*out.Record
	deletes map[string]struct{}
}

func (t *memoryTx) Get(ctx context.Context, key string) (*out.Record, error) {
	if rec, ok := t.writes[key]; ok {
		return copyRecord(rec), nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, out.ErrNotFound
	}
	rec, ok := t.store.records[key]
	if !ok {
		return nil, out.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (t *memoryTx) Put(ctx context.Context, rec *out.Record) error {
	delete(t.deletes, rec.Key)
	t.writes[rec.Key] = copyRecord(rec)
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, key string) error {
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}
