// Package dedup implements the deduplication engine: it remembers which
// message ids and content fingerprints have been processed so retried or
// re-fetched messages are skipped instead of re-triaged.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// Config lists every recognized option and its default.
type Config struct {
	// TTL is how long a processed mark is honored. An older entry is treated
	// as "not seen" even if still indexed, and evicted lazily.
	TTL time.Duration

	// MaxEntries caps the index size. Exceeding it on the write path runs a
	// synchronous sweep of expired entries.
	MaxEntries int
}

// DefaultConfig returns the default dedup configuration.
func DefaultConfig() *Config {
	return &Config{
		TTL:        24 * time.Hour,
		MaxEntries: 10000,
	}
}

// Metadata is recorded alongside a processed mark.
type Metadata struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	ThreadID    string             `json:"thread_id,omitempty"`
}

type entry struct {
	MessageID   string             `json:"message_id"`
	Fingerprint domain.Fingerprint `json:"fingerprint,omitempty"`
	ThreadID    string             `json:"thread_id,omitempty"`
	SeenAt      time.Time          `json:"seen_at"`
}

type snapshot struct {
	Entries []entry `json:"entries"`
}

// Engine is the deduplication engine. All state is instance-owned; the
// optional snapshot store only adds durability across invocations and never
// blocks a triage decision.
type Engine struct {
	mu  sync.Mutex
	cfg *Config

	byID          map[string]*entry
	byFingerprint map[domain.Fingerprint]string          // fingerprint → message id
	byThread      map[string]map[string]struct{}         // thread id → member message ids

	snapshots out.DedupSnapshotStore
}

// NewEngine creates a dedup engine. snapshots may be nil for memory-only
// operation. A missing or corrupt persisted snapshot is non-fatal; the
// engine starts empty.
func NewEngine(cfg *Config, snapshots out.DedupSnapshotStore) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:           cfg,
		byID:          make(map[string]*entry),
		byFingerprint: make(map[domain.Fingerprint]string),
		byThread:      make(map[string]map[string]struct{}),
		snapshots:     snapshots,
	}
	e.restore()
	return e
}

func (e *Engine) restore() {
	if e.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := e.snapshots.Load(ctx)
	if err != nil || len(data) == 0 {
		if err != nil {
			logger.Warn("dedup: snapshot load failed, starting empty: %v", err)
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("dedup: corrupt snapshot ignored: %v", err)
		return
	}

	now := time.Now()
	for i := range snap.Entries {
		en := snap.Entries[i]
		if now.Sub(en.SeenAt) > e.cfg.TTL {
			continue
		}
		e.index(&en)
	}
	logger.Info("dedup: restored %d entries from snapshot", len(e.byID))
}

// index adds an entry to all maps. Caller holds the lock (or is still
// single-threaded during construction).
func (e *Engine) index(en *entry) {
	e.byID[en.MessageID] = en
	if en.Fingerprint != "" {
		e.byFingerprint[en.Fingerprint] = en.MessageID
	}
	if en.ThreadID != "" {
		members, ok := e.byThread[en.ThreadID]
		if !ok {
			members = make(map[string]struct{})
			e.byThread[en.ThreadID] = members
		}
		members[en.MessageID] = struct{}{}
	}
}

func (e *Engine) remove(en *entry) {
	delete(e.byID, en.MessageID)
	if en.Fingerprint != "" {
		if id, ok := e.byFingerprint[en.Fingerprint]; ok && id == en.MessageID {
			delete(e.byFingerprint, en.Fingerprint)
		}
	}
	if en.ThreadID != "" {
		if members, ok := e.byThread[en.ThreadID]; ok {
			delete(members, en.MessageID)
			if len(members) == 0 {
				delete(e.byThread, en.ThreadID)
			}
		}
	}
}

func (e *Engine) expired(en *entry, now time.Time) bool {
	return now.Sub(en.SeenAt) > e.cfg.TTL
}

// IsDuplicate reports whether the message id was already marked processed
// within the TTL, or the content fingerprint matches one already on record.
// fp may be empty for an id-only check. Expired entries are evicted lazily.
func (e *Engine) IsDuplicate(messageID string, fp domain.Fingerprint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	if en, ok := e.byID[messageID]; ok {
		if !e.expired(en, now) {
			return true
		}
		e.remove(en)
	}

	if fp != "" {
		if id, ok := e.byFingerprint[fp]; ok {
			if en, ok := e.byID[id]; ok {
				if !e.expired(en, now) {
					return true
				}
				e.remove(en)
			} else {
				delete(e.byFingerprint, fp)
			}
		}
	}

	return false
}

// MarkProcessed records a processed mark for the message. Marking the same
// id again refreshes the entry, which keeps the operation safely retryable.
func (e *Engine) MarkProcessed(messageID string, meta Metadata) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.byID) >= e.cfg.MaxEntries {
		removed := e.sweepLocked(time.Now())
		logger.Info("dedup: index over %d entries, sweep removed %d", e.cfg.MaxEntries, removed)
	}

	if old, ok := e.byID[messageID]; ok {
		e.remove(old)
	}
	e.index(&entry{
		MessageID:   messageID,
		Fingerprint: meta.Fingerprint,
		ThreadID:    meta.ThreadID,
		SeenAt:      time.Now(),
	})
}

// InSameThread reports whether both message ids were recorded against the
// same thread, using the thread side index.
func (e *Engine) InSameThread(messageA, messageB string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, members := range e.byThread {
		if _, ok := members[messageA]; !ok {
			continue
		}
		_, ok := members[messageB]
		return ok
	}
	return false
}

// Len returns the number of indexed entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byID)
}

// Sweep removes all entries older than the TTL and returns how many were
// evicted.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweepLocked(time.Now())
}

func (e *Engine) sweepLocked(now time.Time) int {
	removed := 0
	for _, en := range e.byID {
		if e.expired(en, now) {
			e.remove(en)
			removed++
		}
	}
	return removed
}

// Persist saves the current index through the snapshot store. Failures are
// logged and swallowed; the engine keeps operating in-memory.
func (e *Engine) Persist(ctx context.Context) {
	if e.snapshots == nil {
		return
	}

	e.mu.Lock()
	snap := snapshot{Entries: make([]entry, 0, len(e.byID))}
	for _, en := range e.byID {
		snap.Entries = append(snap.Entries, *en)
	}
	e.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		logger.Error("dedup: snapshot marshal failed: %v", err)
		return
	}
	if err := e.snapshots.Save(ctx, data); err != nil {
		logger.Warn("dedup: snapshot save failed, continuing in-memory: %v", err)
	}
}
