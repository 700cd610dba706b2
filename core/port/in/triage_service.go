package in

import (
	"context"

	"triage_server/core/domain"
)

// TriageService is the inbound port for running the triage pipeline.
type TriageService interface {
	// ProcessBatch runs each message through dedup, thread detection,
	// classification and approval gating, in order.
	ProcessBatch(ctx context.Context, msgs []*domain.Message) (*BatchReport, error)
	Stats(ctx context.Context) (*TriageStats, error)
}

// Outcome is the per-message result of a triage run.
type Outcome struct {
	MessageID  string                       `json:"message_id"`
	Skipped    bool                         `json:"skipped"` // duplicate
	ThreadID   string                       `json:"thread_id,omitempty"`
	Result     *domain.ClassificationResult `json:"result,omitempty"`
	ApprovalID string                       `json:"approval_id,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

// BatchReport summarizes one pipeline invocation.
type BatchReport struct {
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Blocked   int       `json:"blocked"`
	Queued    int       `json:"queued"` // sent to the approval queue
	Outcomes  []Outcome `json:"outcomes"`
}

// TriageStats aggregates engine counters for the stats endpoint.
type TriageStats struct {
	Classification domain.EngineStats `json:"classification"`
	DedupEntries   int                `json:"dedup_entries"`
	Threads        int                `json:"threads"`
	BatchP50Micros int64              `json:"batch_p50_us"`
	BatchP95Micros int64              `json:"batch_p95_us"`
}

// ApprovalService is the inbound port for the approval console.
type ApprovalService interface {
	AddToQueue(ctx context.Context, rec *domain.ApprovalRecord) (*domain.ApprovalRecord, error)
	GetPendingApprovals(ctx context.Context, userID string, limit int) ([]*domain.ApprovalRecord, error)
	GetPendingByType(ctx context.Context, approvalType string, limit int) ([]*domain.ApprovalRecord, error)
	Approve(ctx context.Context, id string, res domain.Resolution) (*domain.ApprovalRecord, error)
	Reject(ctx context.Context, id, rejectedBy, reason string) (*domain.ApprovalRecord, error)
	BulkApprove(ctx context.Context, ids []string, approvedBy string) []domain.BulkResult
	GetStatistics(ctx context.Context, userID string) (*domain.ApprovalStats, error)
	Cleanup(ctx context.Context) (int, error)
}
