// Package classification implements the rule-based triage classification
// engine: hard security pre-checks, a fingerprint result cache, tier
// scoring, validation, and a final security-override pass.
package classification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/fingerprint"
	"triage_server/pkg/logger"
)

// Engine classifies messages. It fails closed: any internal error or
// validation failure converts to a Blocked result, never an error to the
// caller.
type Engine struct {
	cfg     *Config
	hasher  *fingerprint.Hasher
	limiter out.ClassifyLimiter // optional
	audit   out.AuditSink       // optional
	cache   *resultCache

	mu    sync.Mutex
	stats domain.EngineStats
}

// NewEngine creates a classification engine. limiter and audit may be nil.
func NewEngine(cfg *Config, hasher *fingerprint.Hasher, limiter out.ClassifyLimiter, audit out.AuditSink) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if hasher == nil {
		hasher = fingerprint.New(0)
	}
	return &Engine{
		cfg:     cfg,
		hasher:  hasher,
		limiter: limiter,
		audit:   audit,
		cache:   newResultCache(cfg.CacheTTL),
		stats: domain.EngineStats{
			TierCounts: make(map[string]int64),
		},
	}
}

// Classify runs the staged pipeline for one message.
func (e *Engine) Classify(ctx context.Context, msg *domain.Message) (result *domain.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("classification: internal failure for %s: %v", msg.ID, r)
			result = e.blocked(ctx, msg, "", "classification error")
		}
	}()
	return e.classify(ctx, msg)
}

func (e *Engine) classify(ctx context.Context, msg *domain.Message) *domain.ClassificationResult {
	fp := e.hasher.ComputeMessage(msg)
	content := msg.Subject + "\n" + msg.Body
	sender := domain.NormalizeAddress(msg.From)

	// Stage 1: hard blocks.
	if entry, ok := offLimitsMatch(e.cfg.OffLimitsContacts, sender); ok {
		e.violation(ctx, "off_limits_contact", fmt.Sprintf("sender %s matched %s", sender, entry), msg.ID)
		return e.blocked(ctx, msg, fp, fmt.Sprintf("Sender %s is on the off-limits contact list", sender))
	}
	if dom, ok := criticalDomainMatch(e.cfg.CriticalDomains, sender); ok {
		e.violation(ctx, "critical_domain", fmt.Sprintf("sender domain %s", dom), msg.ID)
		return e.blocked(ctx, msg, fp, fmt.Sprintf("Sender domain %s requires manual review", dom))
	}
	if pattern, ok := matchesAny(suspiciousPatterns, content); ok {
		e.violation(ctx, "suspicious_pattern", pattern, msg.ID)
		return e.blocked(ctx, msg, fp, "Suspicious content pattern detected")
	}
	if e.limiter != nil && !e.limiter.CanClassifyEmail(ctx) {
		return e.blocked(ctx, msg, fp, "Classification rate limit exceeded for this window")
	}

	// Stage 2: fingerprint cache.
	if cached, ok := e.cache.get(fp); ok {
		logger.Debug("classification: %s served from cache (fingerprint %s)", msg.ID, fp)
		cached.MessageID = msg.ID
		cached.FromCache = true
		e.applyOverrides(cached, msg, sender, content)
		e.record(ctx, msg, cached)
		return cached
	}

	// Stage 3: rule-based scoring.
	result := e.score(msg, fp, sender, content)

	// Stage 4: validation. A failed validation converts to a block; a
	// below-threshold tier-1 candidate is not re-scored at tier 2.
	if reason, ok := e.validate(result, sender); !ok {
		return e.blocked(ctx, msg, fp, reason)
	}

	// Stage 5: security overrides, always applied even to valid results.
	e.applyOverrides(result, msg, sender, content)

	// Stage 6: cache and audit.
	e.cache.put(fp, result)
	e.record(ctx, msg, result)
	return result
}

func (e *Engine) score(msg *domain.Message, fp domain.Fingerprint, sender, content string) *domain.ClassificationResult {
	now := time.Now()
	age := msg.Age(now)
	isVIP := e.cfg.isVIP(sender)

	result := &domain.ClassificationResult{
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID,
		Fingerprint:  fp,
		ClassifiedAt: now,
	}

	if kw, ok := containsAny(content, e.cfg.UrgencyKeywords); ok && (isVIP || age < e.cfg.Tier1MaxAge) {
		result.Tier = domain.Tier1
		result.Confidence = e.cfg.Tier1Confidence
		result.SuggestedAction = domain.ActionAutoReply
		result.Reasons = append(result.Reasons, fmt.Sprintf("Urgency keyword %q detected", kw))
		if isVIP {
			result.Reasons = append(result.Reasons, "Sender is a VIP contact")
		} else {
			result.Reasons = append(result.Reasons, fmt.Sprintf("Message is recent (under %s old)", e.cfg.Tier1MaxAge))
		}
		return result
	}

	if kw, ok := containsAny(content, e.cfg.ImportanceKeywords); ok && !isAutomatedSender(sender) && age < e.cfg.Tier2MaxAge {
		result.Tier = domain.Tier2
		result.Confidence = e.cfg.Tier2Confidence
		result.SuggestedAction = domain.ActionDraftAndSchedule
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("Importance keyword %q detected", kw),
			"Sender is a known, non-automated contact")
		return result
	}

	if isAutomatedSender(sender) {
		result.Tier = domain.Tier4
		result.Confidence = e.cfg.Tier4Confidence
		result.SuggestedAction = domain.ActionFlag
		result.Reasons = append(result.Reasons, "Automated sender, flagged for digest review")
		return result
	}

	// Conservative fallback: never fully autonomous when uncertain.
	result.Tier = domain.Tier3
	result.Confidence = e.cfg.Tier3Confidence
	result.SuggestedAction = domain.ActionDraft
	result.RequiresApproval = true
	result.Reasons = append(result.Reasons, "No high-confidence rule matched, defaulting to draft with approval")
	return result
}

// validate enforces the closed action set and per-tier confidence floors.
func (e *Engine) validate(r *domain.ClassificationResult, sender string) (string, bool) {
	if !r.SuggestedAction.Valid() {
		return fmt.Sprintf("Invalid classification output: unknown action %q", r.SuggestedAction), false
	}
	if !r.Tier.Valid() {
		return fmt.Sprintf("Invalid classification output: unknown tier %d", r.Tier), false
	}
	switch r.Tier {
	case domain.Tier1:
		if r.Confidence < e.cfg.Tier1MinConfidence {
			return fmt.Sprintf("Tier 1 confidence %.2f below threshold %.2f", r.Confidence, e.cfg.Tier1MinConfidence), false
		}
		if !e.cfg.isVIP(sender) {
			return "Tier 1 result from unknown, non-VIP sender", false
		}
	case domain.Tier2:
		if r.Confidence < e.cfg.Tier2MinConfidence {
			return fmt.Sprintf("Tier 2 confidence %.2f below threshold %.2f", r.Confidence, e.cfg.Tier2MinConfidence), false
		}
	}
	return "", true
}

// applyOverrides is the final security pass. It only ever tightens a
// result: downgrades auto-replies and forces approval, never the reverse.
func (e *Engine) applyOverrides(r *domain.ClassificationResult, msg *domain.Message, sender, content string) {
	if r.Blocked() {
		return
	}

	if r.SuggestedAction == domain.ActionAutoReply && noAutoReplyDomain(e.cfg.NoAutoReplyDomains, sender) {
		r.SuggestedAction = domain.ActionDraft
		r.RequiresApproval = true
		r.Reasons = append(r.Reasons, fmt.Sprintf("Auto-reply disabled for domain %s, downgraded to draft", addrDomain(sender)))
	}

	if msg.HasAttachments() {
		r.RequiresApproval = true
		r.Reasons = append(r.Reasons, "Manual review required: Email has attachments")
	}

	if _, ok := matchesAny(financialPatterns, content); ok {
		r.RequiresApproval = true
		r.Reasons = append(r.Reasons, "Manual review required: Financial content detected")
	}
}

// blocked builds the fail-closed result and records it.
func (e *Engine) blocked(ctx context.Context, msg *domain.Message, fp domain.Fingerprint, reason string) *domain.ClassificationResult {
	result := &domain.ClassificationResult{
		MessageID:        msg.ID,
		ThreadID:         msg.ThreadID,
		Fingerprint:      fp,
		Tier:             domain.TierBlocked,
		Confidence:       1.0,
		SuggestedAction:  domain.ActionBlock,
		RequiresApproval: true,
		Reasons:          []string{reason},
		ClassifiedAt:     time.Now(),
	}

	if e.audit != nil {
		e.audit.EmailBlocked(ctx, out.BlockedEvent{
			MessageID: msg.ID,
			Sender:    domain.NormalizeAddress(msg.From),
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}

	e.mu.Lock()
	e.stats.TotalClassified++
	e.stats.BlockedCount++
	e.stats.TierCounts[domain.TierBlocked.String()]++
	e.mu.Unlock()

	return result
}

func (e *Engine) violation(ctx context.Context, kind, detail, messageID string) {
	logger.Warn("classification: security violation %s: %s", kind, detail)
	if e.audit != nil {
		e.audit.SecurityViolation(ctx, out.ViolationEvent{
			Kind:      kind,
			Detail:    detail,
			MessageID: messageID,
			Timestamp: time.Now(),
		})
	}
}

// record updates counters and emits the classified audit event.
func (e *Engine) record(ctx context.Context, msg *domain.Message, r *domain.ClassificationResult) {
	e.mu.Lock()
	e.stats.TotalClassified++
	e.stats.TierCounts[r.Tier.String()]++
	if r.FromCache {
		e.stats.CacheHits++
	}
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.EmailClassified(ctx, out.ClassifiedEvent{
			MessageID:  msg.ID,
			Sender:     domain.NormalizeAddress(msg.From),
			Subject:    msg.Subject,
			Tier:       r.Tier.String(),
			Confidence: r.Confidence,
			FromCache:  r.FromCache,
			Timestamp:  time.Now(),
		})
	}
}

// Stats returns a snapshot of the running counters.
func (e *Engine) Stats() domain.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[string]int64, len(e.stats.TierCounts))
	for k, v := range e.stats.TierCounts {
		counts[k] = v
	}
	return domain.EngineStats{
		TotalClassified: e.stats.TotalClassified,
		TierCounts:      counts,
		BlockedCount:    e.stats.BlockedCount,
		CacheHits:       e.stats.CacheHits,
	}
}

// Fingerprint exposes the engine's hasher for callers that need the same
// fingerprint (dedup shares it).
func (e *Engine) Fingerprint(msg *domain.Message) domain.Fingerprint {
	return e.hasher.ComputeMessage(msg)
}
