package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// ClassifyLimiter gates classification throughput. Consulted once per
// message at the start of classification; a denial converts to a blocked
// result upstream, never an error.
type ClassifyLimiter interface {
	CanClassifyEmail(ctx context.Context) bool
}

// Mailbox supplies inbound messages. The triage core never deletes, labels
// or sends through it; those are intents executed elsewhere.
type Mailbox interface {
	FetchSince(ctx context.Context, since time.Time) ([]*domain.Message, error)
}

// ActionIntent is what the triage core hands to the action-execution
// collaborator: either a fully-autonomous classification outcome or an
// approved record.
type ActionIntent struct {
	MessageID    string                 `json:"message_id"`
	ThreadID     string                 `json:"thread_id,omitempty"`
	Action       domain.SuggestedAction `json:"action"`
	FinalContent string                 `json:"final_content,omitempty"`
	ApprovalID   string                 `json:"approval_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ActionPublisher hands intents to the action-execution collaborator.
type ActionPublisher interface {
	Publish(ctx context.Context, intent *ActionIntent) error
}

// DedupSnapshotStore persists the dedup index between invocations. Both
// operations are best-effort from the engine's point of view: a failure is
// logged and the engine keeps running in-memory.
type DedupSnapshotStore interface {
	Save(ctx context.Context, snapshot []byte) error
	Load(ctx context.Context) ([]byte, error)
}
