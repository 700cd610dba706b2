package out

import (
	"context"
	"time"
)

// ClassifiedEvent records a completed classification, cache hit or not.
type ClassifiedEvent struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Tier       string    `json:"tier"`
	Confidence float64   `json:"confidence"`
	FromCache  bool      `json:"from_cache"`
	Timestamp  time.Time `json:"timestamp"`
}

// BlockedEvent records a message that a hard rule blocked.
type BlockedEvent struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ViolationEvent records a security rule firing (off-limits contact,
// critical domain, suspicious pattern).
type ViolationEvent struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditSink receives structured triage events. Implementations must not
// block the pipeline; failures are the sink's problem to degrade around.
type AuditSink interface {
	EmailClassified(ctx context.Context, ev ClassifiedEvent)
	EmailBlocked(ctx context.Context, ev BlockedEvent)
	SecurityViolation(ctx context.Context, ev ViolationEvent)
}
