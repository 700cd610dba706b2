// Package thread implements the thread detector: it groups inbound messages
// into conversations using explicit linkage, exact keys and fuzzy matching,
// in that order.
package thread

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

const threadRecordKind = "thread"

// Config lists every recognized option and its default.
type Config struct {
	// OwnerAddress identifies "self" for message attribution and thread
	// status derivation.
	OwnerAddress string

	// MaxAge is the inactivity window after which a thread is eligible for
	// garbage collection.
	MaxAge time.Duration

	// ExcerptLen bounds the body excerpt kept on member summaries.
	ExcerptLen int

	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig(ownerAddress string) *Config {
	return &Config{
		OwnerAddress: domain.NormalizeAddress(ownerAddress),
		MaxAge:       90 * 24 * time.Hour,
		ExcerptLen:   100,
		StoreTimeout: 3 * time.Second,
	}
}

// Detector owns the thread index. It is the sole writer of Thread entities;
// persistence through the store is best-effort durability, never a gate on
// the triage decision.
type Detector struct {
	mu  sync.Mutex
	cfg *Config

	threads   map[string]*domain.Thread // thread id → thread
	keyIndex  map[string]string         // exact key → thread id
	msgIndex  map[string]string         // member message id → thread id
	matchers  []Matcher

	store out.Store // optional
}

// NewDetector creates a thread detector. store may be nil for memory-only
// operation; when present, previously persisted threads are loaded and a
// load failure is non-fatal.
func NewDetector(cfg *Config, store out.Store) *Detector {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	d := &Detector{
		cfg:      cfg,
		threads:  make(map[string]*domain.Thread),
		keyIndex: make(map[string]string),
		msgIndex: make(map[string]string),
		store:    store,
	}
	d.matchers = []Matcher{
		NewExplicitRefMatcher(d.threadOfMessage),
		ExactKeyMatcher{},
		NewFuzzyMatcher(),
	}
	d.restore()
	return d
}

func (d *Detector) threadOfMessage(messageID string) (string, bool) {
	id, ok := d.msgIndex[messageID]
	return id, ok
}

func (d *Detector) restore() {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StoreTimeout)
	defer cancel()

	recs, err := d.store.ListByKind(ctx, threadRecordKind, 0)
	if err != nil {
		logger.Warn("thread: load failed, starting empty: %v", err)
		return
	}
	for _, rec := range recs {
		var t domain.Thread
		if err := json.Unmarshal(rec.Value, &t); err != nil {
			logger.Warn("thread: skipping corrupt record %s: %v", rec.Key, err)
			continue
		}
		d.indexThread(&t)
	}
	if len(d.threads) > 0 {
		logger.Info("thread: restored %d threads", len(d.threads))
	}
}

func (d *Detector) indexThread(t *domain.Thread) {
	d.threads[t.ID] = t
	d.keyIndex[t.Key] = t.ID
	for i := range t.Members {
		d.msgIndex[t.Members[i].MessageID] = t.ID
	}
}

// Detect returns the id of the existing thread the message belongs to, if
// any, without recording membership. Matchers run in strict precedence
// order; the first match wins.
func (d *Detector) Detect(msg *domain.Message) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detectLocked(msg)
}

func (d *Detector) detectLocked(msg *domain.Message) (string, bool) {
	candidates := make([]*domain.Thread, 0, len(d.threads))
	for _, t := range d.threads {
		candidates = append(candidates, t)
	}
	for _, m := range d.matchers {
		if id, ok := m.Match(msg, candidates); ok {
			return id, true
		}
	}
	return "", false
}

// Record detects-or-creates the thread for the message and records
// membership. It always returns a thread id: a failed lookup falls back to
// creating a new thread rather than failing the message.
func (d *Detector) Record(msg *domain.Message) string {
	d.mu.Lock()

	var t *domain.Thread
	if id, ok := d.detectLocked(msg); ok {
		t = d.threads[id]
		d.appendMember(t, msg)
	} else {
		t = d.newThread(msg)
		d.indexThread(t)
	}
	d.msgIndex[msg.ID] = t.ID
	threadCopy := *t
	d.mu.Unlock()

	d.persist(&threadCopy)
	return threadCopy.ID
}

func (d *Detector) newThread(msg *domain.Message) *domain.Thread {
	subject := NormalizeSubject(msg.Subject)
	participants := msg.Participants()
	now := time.Now()

	t := &domain.Thread{
		ID:           uuid.NewString(),
		Key:          ThreadKey(subject, participants),
		Subject:      subject,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.appendMember(t, msg)
	return t
}

// appendMember appends the member summary and recomputes rolling stats.
// Members stays append-only and ordered by arrival.
func (d *Detector) appendMember(t *domain.Thread, msg *domain.Message) {
	fromSelf := domain.NormalizeAddress(msg.From) == d.cfg.OwnerAddress && d.cfg.OwnerAddress != ""

	if last := t.LastMessage(); last != nil {
		gap := msg.ReceivedAt.Sub(last.ReceivedAt)
		if gap > 0 {
			n := int64(len(t.Members)) // number of gaps after this append
			t.AvgResponseLatency = time.Duration((int64(t.AvgResponseLatency)*(n-1) + int64(gap)) / n)
		}
	}

	t.Members = append(t.Members, domain.ThreadMessage{
		MessageID:  msg.ID,
		Sender:     domain.NormalizeAddress(msg.From),
		ReceivedAt: msg.ReceivedAt,
		Excerpt:    msg.BodyExcerpt(d.cfg.ExcerptLen),
		FromSelf:   fromSelf,
	})
	if fromSelf {
		t.SelfCount++
	} else {
		t.OtherCount++
	}

	// Merge any new participants.
	known := make(map[string]struct{}, len(t.Participants))
	for _, p := range t.Participants {
		known[p] = struct{}{}
	}
	for _, p := range msg.Participants() {
		if _, ok := known[p]; !ok {
			t.Participants = append(t.Participants, p)
		}
	}

	t.UpdatedAt = time.Now()
}

func (d *Detector) persist(t *domain.Thread) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StoreTimeout)
	defer cancel()

	value, err := json.Marshal(t)
	if err != nil {
		logger.Error("thread: marshal %s failed: %v", t.ID, err)
		return
	}
	rec := &out.Record{
		Key:       "thread:" + t.ID,
		Kind:      threadRecordKind,
		Owner:     d.cfg.OwnerAddress,
		Value:     value,
		CreatedAt: t.CreatedAt,
	}
	if err := d.store.Put(ctx, rec); err != nil {
		logger.Warn("thread: persist %s failed: %v", t.ID, err)
	}
}

// Get returns a copy of the thread, if known.
func (d *Detector) Get(threadID string) (*domain.Thread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.threads[threadID]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Len returns the number of known threads.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.threads)
}

// Sweep drops threads idle past MaxAge and returns how many were collected.
func (d *Detector) Sweep(ctx context.Context) int {
	d.mu.Lock()
	now := time.Now()
	var stale []string
	for id, t := range d.threads {
		if now.Sub(t.UpdatedAt) > d.cfg.MaxAge {
			stale = append(stale, id)
		}
	}
	var keys []string
	for _, id := range stale {
		t := d.threads[id]
		delete(d.keyIndex, t.Key)
		for i := range t.Members {
			delete(d.msgIndex, t.Members[i].MessageID)
		}
		delete(d.threads, id)
		keys = append(keys, "thread:"+id)
	}
	d.mu.Unlock()

	if d.store != nil && len(keys) > 0 {
		if err := d.store.DeleteBatch(ctx, keys); err != nil {
			logger.Warn("thread: sweep delete failed: %v", err)
		}
	}
	return len(stale)
}
