// Package triage orchestrates the pipeline: dedup check, thread recording,
// classification and the approval gate, in that order for every message.
package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/core/service/approval"
	"triage_server/core/service/classification"
	"triage_server/core/service/dedup"
	"triage_server/core/service/thread"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

// Config holds pipeline-level settings.
type Config struct {
	// OwnerUserID owns every approval the pipeline enqueues.
	OwnerUserID string

	// LatencyWindow is the sample window for batch latency percentiles.
	LatencyWindow int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig(ownerUserID string) *Config {
	return &Config{
		OwnerUserID:   ownerUserID,
		LatencyWindow: 256,
	}
}

// Pipeline implements in.TriageService. Messages are processed sequentially;
// the mutex keeps overlapping callers from interleaving dedup marks.
type Pipeline struct {
	cfg       *Config
	dedup     *dedup.Engine
	threads   *thread.Detector
	engine    *classification.Engine
	approvals in.ApprovalService
	publisher out.ActionPublisher // optional
	latency   *metrics.LatencyTracker

	mu sync.Mutex
}

// NewPipeline wires the pipeline. publisher may be nil, in which case
// fully-autonomous outcomes are logged and dropped.
func NewPipeline(cfg *Config, ded *dedup.Engine, threads *thread.Detector, engine *classification.Engine, approvals in.ApprovalService, publisher out.ActionPublisher) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	return &Pipeline{
		cfg:       cfg,
		dedup:     ded,
		threads:   threads,
		engine:    engine,
		approvals: approvals,
		publisher: publisher,
		latency:   metrics.NewLatencyTracker(cfg.LatencyWindow),
	}
}

// ProcessBatch runs each message through the pipeline in order. A duplicate
// later in the batch sees the marks left by earlier messages.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []*domain.Message) (*in.BatchReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report := &in.BatchReport{Outcomes: make([]in.Outcome, 0, len(msgs))}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Outcomes = append(report.Outcomes, p.process(ctx, msg, report))
	}

	p.latency.Record(time.Since(start))
	logger.Info("triage: batch done: processed=%d skipped=%d blocked=%d queued=%d",
		report.Processed, report.Skipped, report.Blocked, report.Queued)
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, msg *domain.Message, report *in.BatchReport) in.Outcome {
	outcome := in.Outcome{MessageID: msg.ID}

	fp := p.engine.Fingerprint(msg)
	if p.dedup.IsDuplicate(msg.ID, fp) {
		logger.Debug("triage: %s skipped as duplicate", msg.ID)
		outcome.Skipped = true
		report.Skipped++
		return outcome
	}

	threadID := p.threads.Record(msg)
	msg.ThreadID = threadID
	outcome.ThreadID = threadID

	result := p.engine.Classify(ctx, msg)
	outcome.Result = result
	report.Processed++
	if result.Blocked() {
		report.Blocked++
	}

	if result.RequiresApproval {
		rec, err := p.enqueue(ctx, msg, result)
		switch {
		case errors.Is(err, approval.ErrDuplicatePending):
			// The decision is already durably recorded; fall through to the
			// dedup mark.
		case err != nil:
			// Not durable yet: leave the message unmarked so a retry can
			// pick it up.
			outcome.Error = err.Error()
			return outcome
		default:
			outcome.ApprovalID = rec.ID
			report.Queued++
		}
	} else if err := p.publish(ctx, msg, result); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	p.dedup.MarkProcessed(msg.ID, dedup.Metadata{Fingerprint: fp, ThreadID: threadID})
	return outcome
}

func (p *Pipeline) enqueue(ctx context.Context, msg *domain.Message, result *domain.ClassificationResult) (*domain.ApprovalRecord, error) {
	return p.approvals.AddToQueue(ctx, &domain.ApprovalRecord{
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		Type:       approvalType(result.SuggestedAction),
		Payload:    fmt.Sprintf("%s for %q from %s", result.SuggestedAction, msg.Subject, domain.NormalizeAddress(msg.From)),
		Confidence: result.Confidence,
		Reasons:    result.Reasons,
		UserID:     p.cfg.OwnerUserID,
	})
}

func (p *Pipeline) publish(ctx context.Context, msg *domain.Message, result *domain.ClassificationResult) error {
	if p.publisher == nil {
		logger.Warn("triage: no action publisher, dropping %s intent for %s", result.SuggestedAction, msg.ID)
		return nil
	}
	return p.publisher.Publish(ctx, &out.ActionIntent{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Action:    result.SuggestedAction,
		CreatedAt: time.Now().UTC(),
	})
}

// approvalType maps a suggested action to the approval queue's type key.
func approvalType(action domain.SuggestedAction) string {
	switch action {
	case domain.ActionAutoReply:
		return "auto_reply"
	case domain.ActionDraftAndSchedule:
		return "schedule_send"
	case domain.ActionDraft:
		return "draft_reply"
	case domain.ActionFlag:
		return "flag_review"
	case domain.ActionBlock:
		return "blocked_review"
	default:
		return string(action)
	}
}

// Stats aggregates engine counters for the stats endpoint.
func (p *Pipeline) Stats(ctx context.Context) (*in.TriageStats, error) {
	lat := p.latency.Stats()
	return &in.TriageStats{
		Classification: p.engine.Stats(),
		DedupEntries:   p.dedup.Len(),
		Threads:        p.threads.Len(),
		BatchP50Micros: lat.P50.Microseconds(),
		BatchP95Micros: lat.P95.Microseconds(),
	}, nil
}

// Sweep runs the periodic maintenance passes: dedup TTL eviction, thread
// retention GC and the approval cleanup.
func (p *Pipeline) Sweep(ctx context.Context) {
	evicted := p.dedup.Sweep()
	collected := p.threads.Sweep(ctx)
	cleaned, err := p.approvals.Cleanup(ctx)
	if err != nil {
		logger.Warn("triage: approval cleanup failed: %v", err)
	}
	logger.Info("triage: sweep: dedup=%d threads=%d approvals=%d", evicted, collected, cleaned)
}

// Persist flushes the dedup snapshot. Called on shutdown and after sweeps.
func (p *Pipeline) Persist(ctx context.Context) {
	p.dedup.Persist(ctx)
}
