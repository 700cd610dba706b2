package mongodb

import (
	"context"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// LogSink is the audit sink used when no MongoDB is configured: every event
// still lands in the structured log, so the audit trail degrades instead of
// disappearing.
type LogSink struct{}

// NewLogSink creates the logging fallback sink.
func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) EmailClassified(_ context.Context, ev out.ClassifiedEvent) {
	logger.Info("audit: classified message=%s sender=%s tier=%s confidence=%.2f cache=%t",
		ev.MessageID, ev.Sender, ev.Tier, ev.Confidence, ev.FromCache)
}

func (LogSink) EmailBlocked(_ context.Context, ev out.BlockedEvent) {
	logger.Warn("audit: blocked message=%s sender=%s reason=%q", ev.MessageID, ev.Sender, ev.Reason)
}

func (LogSink) SecurityViolation(_ context.Context, ev out.ViolationEvent) {
	logger.Warn("audit: violation kind=%s message=%s detail=%q", ev.Kind, ev.MessageID, ev.Detail)
}
