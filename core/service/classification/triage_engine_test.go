package classification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.VIPSenders = []string{"boss@company.com"}
	cfg.OffLimitsContacts = []string{"family@example.com", "*@blocked.example"}
	cfg.CriticalDomains = []string{"irs.gov", "courts.example"}
	cfg.NoAutoReplyDomains = []string{"legalfirm.example"}
	return cfg
}

func vipUrgentMessage() *domain.Message {
	return &domain.Message{
		ID:         "msg-urgent",
		From:       "boss@company.com",
		To:         []string{"me@corp.com"},
		Subject:    "URGENT: contract deadline today",
		Body:       "need this by 5pm",
		ReceivedAt: time.Now().Add(-30 * time.Minute),
	}
}

func hasReason(r *domain.ClassificationResult, substr string) bool {
	for _, reason := range r.Reasons {
		if strings.Contains(reason, substr) {
			return true
		}
	}
	return false
}

func TestClassify_VIPUrgentTier1(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), vipUrgentMessage())

	if r.Tier != domain.Tier1 {
		t.Fatalf("tier = %s, want tier1 (reasons: %v)", r.Tier, r.Reasons)
	}
	if r.Confidence != 0.95 {
		t.Errorf("confidence = %.2f, want 0.95", r.Confidence)
	}
	if r.SuggestedAction != domain.ActionAutoReply {
		t.Errorf("action = %s, want auto_reply", r.SuggestedAction)
	}
	if r.RequiresApproval {
		t.Error("VIP urgent recent message should not require approval")
	}
}

func TestClassify_AttachmentOverride(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	msg := vipUrgentMessage()
	msg.Attachments = []domain.Attachment{{Filename: "contract.pdf", Size: 20480}}

	r := e.Classify(context.Background(), msg)

	if r.Tier != domain.Tier1 {
		t.Errorf("tier should stand at tier1, got %s", r.Tier)
	}
	if !r.RequiresApproval {
		t.Error("attachment must force requiresApproval")
	}
	if !hasReason(r, "Manual review required: Email has attachments") {
		t.Errorf("missing attachment reason, got %v", r.Reasons)
	}
}

func TestClassify_OffLimitsHardBlock(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	// Would otherwise be tier-2 eligible: importance keyword, known contact.
	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-family",
		From:       "family@example.com",
		Subject:    "Reminder: dinner Friday",
		Body:       "Important, don't forget the meeting",
		ReceivedAt: time.Now().Add(-time.Hour),
	})

	if r.Tier != domain.TierBlocked {
		t.Fatalf("off-limits sender must block, got %s", r.Tier)
	}
	if r.SuggestedAction != domain.ActionBlock {
		t.Errorf("action = %s, want block", r.SuggestedAction)
	}
}

func TestClassify_OffLimitsDomainWildcard(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-wild",
		From:       "anyone@blocked.example",
		Subject:    "hello",
		Body:       "hi",
		ReceivedAt: time.Now(),
	})
	if r.Tier != domain.TierBlocked {
		t.Errorf("wildcard off-limits domain must block, got %s", r.Tier)
	}
}

func TestClassify_CriticalDomainBlock(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-gov",
		From:       "agent@irs.gov",
		Subject:    "Notice",
		Body:       "Please respond",
		ReceivedAt: time.Now(),
	})

	if r.Tier != domain.TierBlocked {
		t.Fatalf("critical domain must block, got %s", r.Tier)
	}
	if !hasReason(r, "requires manual review") {
		t.Errorf("missing manual-review reason, got %v", r.Reasons)
	}
}

func TestClassify_SuspiciousPatternBlock(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"account verification", "Please verify your account immediately or lose access"},
		{"huge amount", "You are entitled to $4,500,000,000 in unclaimed funds"},
		{"prize claim", "Congratulations, claim your prize now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Classify(context.Background(), &domain.Message{
				ID:         "msg-sus",
				From:       "stranger@random.example",
				Subject:    "hello",
				Body:       tt.body,
				ReceivedAt: time.Now(),
			})
			if r.Tier != domain.TierBlocked {
				t.Errorf("suspicious body %q should block, got %s", tt.body, r.Tier)
			}
		})
	}
}

type denyLimiter struct{}

func (denyLimiter) CanClassifyEmail(context.Context) bool { return false }

func TestClassify_RateLimiterDenial(t *testing.T) {
	e := NewEngine(testConfig(), nil, denyLimiter{}, nil)

	r := e.Classify(context.Background(), vipUrgentMessage())
	if r.Tier != domain.TierBlocked {
		t.Errorf("rate limiter denial should block, got %s", r.Tier)
	}
}

func TestClassify_Tier2KnownContact(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-imp",
		From:       "colleague@partner.example",
		Subject:    "Contract review needed",
		Body:       "Can you look at the proposal before Thursday?",
		ReceivedAt: time.Now().Add(-3 * time.Hour),
	})

	if r.Tier != domain.Tier2 {
		t.Fatalf("tier = %s, want tier2 (reasons: %v)", r.Tier, r.Reasons)
	}
	if r.SuggestedAction != domain.ActionDraftAndSchedule {
		t.Errorf("action = %s, want draft_and_schedule", r.SuggestedAction)
	}
}

func TestClassify_Tier4AutomatedSender(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-noreply",
		From:       "noreply@service.example",
		Subject:    "Your weekly summary",
		Body:       "Here is what happened this week",
		ReceivedAt: time.Now(),
	})

	if r.Tier != domain.Tier4 {
		t.Errorf("automated sender should flag at tier4, got %s", r.Tier)
	}
	if r.SuggestedAction != domain.ActionFlag {
		t.Errorf("action = %s, want flag", r.SuggestedAction)
	}
}

func TestClassify_ConservativeDefaultTier3(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-plain",
		From:       "stranger@somewhere.example",
		Subject:    "Question about your blog post",
		Body:       "I enjoyed reading it, had a quick question.",
		ReceivedAt: time.Now().Add(-5 * time.Hour),
	})

	if r.Tier != domain.Tier3 {
		t.Fatalf("tier = %s, want tier3", r.Tier)
	}
	if !r.RequiresApproval {
		t.Error("tier3 default must require approval")
	}
	if r.SuggestedAction != domain.ActionDraft {
		t.Errorf("action = %s, want draft", r.SuggestedAction)
	}
}

func TestClassify_NonVIPTier1CandidateBlocked(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	// Urgency keyword + recent, but unknown sender: scores tier-1, then
	// validation converts it to a block rather than re-scoring lower.
	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-stranger-urgent",
		From:       "stranger@somewhere.example",
		Subject:    "URGENT help needed",
		Body:       "respond right away please",
		ReceivedAt: time.Now().Add(-10 * time.Minute),
	})

	if r.Tier != domain.TierBlocked {
		t.Fatalf("non-VIP tier1 candidate should be blocked by validation, got %s", r.Tier)
	}
	if !hasReason(r, "non-VIP sender") {
		t.Errorf("missing validation reason, got %v", r.Reasons)
	}
}

func TestClassify_FinancialOverride(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-invoice",
		From:       "colleague@partner.example",
		Subject:    "Important: invoice for March",
		Body:       "Attached invoice, payment due in 30 days",
		ReceivedAt: time.Now().Add(-time.Hour),
	})

	if !r.RequiresApproval {
		t.Error("financial content must force requiresApproval")
	}
	if !hasReason(r, "Financial content detected") {
		t.Errorf("missing financial reason, got %v", r.Reasons)
	}
}

func TestClassify_NoAutoReplyDomainDowngrade(t *testing.T) {
	cfg := testConfig()
	cfg.VIPSenders = append(cfg.VIPSenders, "partner@legalfirm.example")
	e := NewEngine(cfg, nil, nil, nil)

	r := e.Classify(context.Background(), &domain.Message{
		ID:         "msg-legal",
		From:       "partner@legalfirm.example",
		Subject:    "URGENT: signature required",
		Body:       "please respond asap",
		ReceivedAt: time.Now().Add(-time.Hour),
	})

	if r.Tier != domain.Tier1 {
		t.Fatalf("tier = %s, want tier1", r.Tier)
	}
	if r.SuggestedAction != domain.ActionDraft {
		t.Errorf("auto_reply must downgrade to draft for no-auto-reply domain, got %s", r.SuggestedAction)
	}
	if !r.RequiresApproval {
		t.Error("downgrade must force approval")
	}
}

func TestClassify_CacheHit(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	first := e.Classify(context.Background(), vipUrgentMessage())
	if first.FromCache {
		t.Fatal("first classification should not be a cache hit")
	}

	again := vipUrgentMessage()
	again.ID = "msg-urgent-retry"
	second := e.Classify(context.Background(), again)

	if !second.FromCache {
		t.Fatal("identical content should be served from cache")
	}
	if second.MessageID != "msg-urgent-retry" {
		t.Errorf("cached result should carry the new message id, got %s", second.MessageID)
	}
	if second.Tier != first.Tier || second.Confidence != first.Confidence {
		t.Error("cached result should match the original scoring")
	}

	stats := e.Stats()
	if stats.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.CacheHits)
	}
}

func TestClassify_CacheHitStillAppliesOverrides(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	e.Classify(context.Background(), vipUrgentMessage())

	withAttachment := vipUrgentMessage()
	withAttachment.ID = "msg-urgent-attach"
	withAttachment.Attachments = []domain.Attachment{{Filename: "scan.pdf", Size: 1024}}

	r := e.Classify(context.Background(), withAttachment)
	if !r.FromCache {
		t.Fatal("expected cache hit")
	}
	if !r.RequiresApproval {
		t.Error("override pass must run on cache hits too")
	}
}

type recordingSink struct {
	mu         sync.Mutex
	classified []out.ClassifiedEvent
	blocked    []out.BlockedEvent
	violations []out.ViolationEvent
}

func (s *recordingSink) EmailClassified(_ context.Context, ev out.ClassifiedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classified = append(s.classified, ev)
}

func (s *recordingSink) EmailBlocked(_ context.Context, ev out.BlockedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, ev)
}

func (s *recordingSink) SecurityViolation(_ context.Context, ev out.ViolationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, ev)
}

func TestClassify_AuditEvents(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(testConfig(), nil, nil, sink)

	e.Classify(context.Background(), vipUrgentMessage())
	e.Classify(context.Background(), &domain.Message{
		ID:         "msg-family",
		From:       "family@example.com",
		Subject:    "dinner",
		Body:       "friday?",
		ReceivedAt: time.Now(),
	})

	if len(sink.classified) != 1 {
		t.Errorf("classified events = %d, want 1", len(sink.classified))
	}
	if len(sink.blocked) != 1 {
		t.Errorf("blocked events = %d, want 1", len(sink.blocked))
	}
	if len(sink.violations) != 1 || sink.violations[0].Kind != "off_limits_contact" {
		t.Errorf("unexpected violations: %+v", sink.violations)
	}
}

func TestStats_Counters(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil, nil)

	e.Classify(context.Background(), vipUrgentMessage())
	e.Classify(context.Background(), &domain.Message{
		ID:         "msg-family",
		From:       "family@example.com",
		Subject:    "dinner",
		Body:       "friday?",
		ReceivedAt: time.Now(),
	})

	stats := e.Stats()
	if stats.TotalClassified != 2 {
		t.Errorf("totalClassified = %d, want 2", stats.TotalClassified)
	}
	if stats.BlockedCount != 1 {
		t.Errorf("blockedCount = %d, want 1", stats.BlockedCount)
	}
	if stats.TierCounts["tier1"] != 1 {
		t.Errorf("tier1 count = %d, want 1", stats.TierCounts["tier1"])
	}
}
