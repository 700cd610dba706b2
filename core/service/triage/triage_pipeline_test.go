package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"triage_server/adapter/out/persistence"
	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/approval"
	"triage_server/core/service/classification"
	"triage_server/core/service/dedup"
	"triage_server/core/service/thread"
	"triage_server/pkg/snowflake"
)

type capturingPublisher struct {
	mu      sync.Mutex
	intents []*out.ActionIntent
	fail    bool
}

func (p *capturingPublisher) Publish(_ context.Context, intent *out.ActionIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("stream unavailable")
	}
	p.intents = append(p.intents, intent)
	return nil
}

func newTestPipeline(t *testing.T, publisher out.ActionPublisher) (*Pipeline, *approval.Queue) {
	t.Helper()

	ids, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	queue := approval.NewQueue(approval.DefaultConfig(), persistence.NewMemoryStore(), ids)

	cfg := classification.DefaultConfig()
	cfg.VIPSenders = []string{"boss@company.com"}
	engine := classification.NewEngine(cfg, nil, nil, nil)

	pipeline := NewPipeline(
		DefaultConfig("user-1"),
		dedup.NewEngine(dedup.DefaultConfig(), nil),
		thread.NewDetector(thread.DefaultConfig("me@corp.com"), nil),
		engine,
		queue,
		publisher,
	)
	return pipeline, queue
}

func message(id, from, subject, body string, age time.Duration) *domain.Message {
	return &domain.Message{
		ID:         id,
		From:       from,
		To:         []string{"me@corp.com"},
		Subject:    subject,
		Body:       body,
		ReceivedAt: time.Now().Add(-age),
	}
}

func TestProcessBatch_AutonomousPath(t *testing.T) {
	pub := &capturingPublisher{}
	pipeline, _ := newTestPipeline(t, pub)

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{
		message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if report.Processed != 1 || report.Queued != 0 {
		t.Errorf("processed/queued = %d/%d, want 1/0", report.Processed, report.Queued)
	}
	if len(pub.intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(pub.intents))
	}
	if pub.intents[0].Action != domain.ActionAutoReply {
		t.Errorf("intent action = %s, want auto_reply", pub.intents[0].Action)
	}
	if pub.intents[0].ThreadID == "" {
		t.Error("intent must carry the thread id")
	}
}

func TestProcessBatch_ApprovalPath(t *testing.T) {
	pipeline, queue := newTestPipeline(t, &capturingPublisher{})

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{
		message("msg-1", "stranger@somewhere.example", "Question about your post", "curious about one thing", time.Hour),
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if report.Queued != 1 {
		t.Fatalf("queued = %d, want 1", report.Queued)
	}
	if report.Outcomes[0].ApprovalID == "" {
		t.Fatal("outcome must carry the approval id")
	}

	pending, err := queue.GetPendingApprovals(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("GetPendingApprovals: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageID != "msg-1" {
		t.Errorf("unexpected pending queue: %+v", pending)
	}
	if pending[0].Type != "draft_reply" {
		t.Errorf("approval type = %s, want draft_reply", pending[0].Type)
	}
}

func TestProcessBatch_DuplicateWithinBatch(t *testing.T) {
	pub := &capturingPublisher{}
	pipeline, _ := newTestPipeline(t, pub)

	first := message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)
	repeat := message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{first, repeat})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if report.Processed != 1 || report.Skipped != 1 {
		t.Errorf("processed/skipped = %d/%d, want 1/1", report.Processed, report.Skipped)
	}
	if !report.Outcomes[1].Skipped {
		t.Error("second occurrence must be skipped")
	}
	if len(pub.intents) != 1 {
		t.Errorf("intents = %d, want 1", len(pub.intents))
	}
}

func TestProcessBatch_FingerprintDuplicateAcrossIDs(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &capturingPublisher{})

	first := message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)
	resent := message("msg-2", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{first, resent})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (same content, new id)", report.Skipped)
	}
}

func TestProcessBatch_BlockedGoesToReview(t *testing.T) {
	pipeline, queue := newTestPipeline(t, &capturingPublisher{})

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{
		message("msg-1", "scam@random.example", "Winner!", "claim your prize today", time.Minute),
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if report.Blocked != 1 || report.Queued != 1 {
		t.Errorf("blocked/queued = %d/%d, want 1/1", report.Blocked, report.Queued)
	}
	pending, _ := queue.GetPendingByType(context.Background(), "blocked_review", 10)
	if len(pending) != 1 {
		t.Errorf("blocked_review pending = %d, want 1", len(pending))
	}
}

func TestProcessBatch_PublishFailureLeavesUnmarked(t *testing.T) {
	pub := &capturingPublisher{fail: true}
	pipeline, _ := newTestPipeline(t, pub)

	msg := message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)

	report, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{msg})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.Outcomes[0].Error == "" {
		t.Fatal("publish failure must surface in the outcome")
	}

	// The message was never marked, so a retry is not treated as a
	// duplicate.
	pub.fail = false
	retryMsg := message("msg-1", "boss@company.com", "URGENT: contract deadline today", "need this now", 30*time.Minute)
	retry, err := pipeline.ProcessBatch(context.Background(), []*domain.Message{retryMsg})
	if err != nil {
		t.Fatalf("retry ProcessBatch: %v", err)
	}
	if retry.Skipped != 0 || retry.Processed != 1 {
		t.Errorf("retry skipped/processed = %d/%d, want 0/1", retry.Skipped, retry.Processed)
	}
	if len(pub.intents) != 1 {
		t.Errorf("intents after retry = %d, want 1", len(pub.intents))
	}
}

func TestProcessBatch_ThreadContinuity(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &capturingPublisher{})
	ctx := context.Background()

	first, err := pipeline.ProcessBatch(ctx, []*domain.Message{
		message("msg-1", "alice@partner.example", "Project kickoff", "let's start", 2*time.Hour),
	})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}

	reply := message("msg-2", "alice@partner.example", "Re: Project kickoff", "following up", time.Hour)
	reply.InReplyTo = "msg-1"
	second, err := pipeline.ProcessBatch(ctx, []*domain.Message{reply})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}

	if first.Outcomes[0].ThreadID == "" || first.Outcomes[0].ThreadID != second.Outcomes[0].ThreadID {
		t.Errorf("reply should join thread %q, got %q", first.Outcomes[0].ThreadID, second.Outcomes[0].ThreadID)
	}
}

func TestStats(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &capturingPublisher{})
	ctx := context.Background()

	if _, err := pipeline.ProcessBatch(ctx, []*domain.Message{
		message("msg-1", "stranger@somewhere.example", "hello", "a question", time.Hour),
	}); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	stats, err := pipeline.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Classification.TotalClassified != 1 {
		t.Errorf("totalClassified = %d, want 1", stats.Classification.TotalClassified)
	}
	if stats.DedupEntries != 1 {
		t.Errorf("dedupEntries = %d, want 1", stats.DedupEntries)
	}
	if stats.Threads != 1 {
		t.Errorf("threads = %d, want 1", stats.Threads)
	}
}
