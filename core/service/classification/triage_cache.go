package classification

import (
	"sync"
	"time"

	"triage_server/core/domain"
)

// resultCache caches classification results keyed by content fingerprint
// for a bounded TTL, so identical content is not re-scored. It is owned by
// the engine instance; no ambient state.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[domain.Fingerprint]cachedResult
}

type cachedResult struct {
	result   domain.ClassificationResult
	storedAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		entries: make(map[domain.Fingerprint]cachedResult),
	}
}

// get returns a copy of the cached result if present and not expired.
// Expired entries are evicted on read.
func (c *resultCache) get(fp domain.Fingerprint) (*domain.ClassificationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, fp)
		return nil, false
	}
	cp := entry.result
	cp.Reasons = append([]string(nil), entry.result.Reasons...)
	return &cp, true
}

func (c *resultCache) put(fp domain.Fingerprint, r *domain.ClassificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *r
	cp.Reasons = append([]string(nil), r.Reasons...)
	c.entries[fp] = cachedResult{result: cp, storedAt: time.Now()}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
