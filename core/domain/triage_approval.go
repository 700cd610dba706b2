package domain

import "time"

// ApprovalStatus is the persisted state of an approval record. Transitions
// are one-way: PENDING → APPROVED or PENDING → REJECTED, both terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalRecord is a persisted request for human sign-off before an action
// executes. Only one pending record exists per (message id, type) pair.
type ApprovalRecord struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Type      string         `json:"type"`
	Status    ApprovalStatus `json:"status"`
	Payload   string         `json:"payload"` // draft content or planned action description

	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`

	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// Modifications and FinalContent carry the approver's edits, if any.
	Modifications string `json:"modifications,omitempty"`
	FinalContent  string `json:"final_content,omitempty"`
}

// Resolution carries the metadata attached when a pending record is approved.
type Resolution struct {
	ApprovedBy    string `json:"approved_by"`
	Modifications string `json:"modifications,omitempty"`
	FinalContent  string `json:"final_content,omitempty"`
}

// BulkResult is the per-id outcome of a bulk approval.
type BulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ApprovalStats aggregates queue activity for one user.
type ApprovalStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`

	// ApprovalRate is approved / (approved + rejected); 0 when nothing has
	// been resolved yet.
	ApprovalRate float64 `json:"approval_rate"`

	// AvgResolutionMinutes is the mean time from creation to resolution, in
	// whole minutes.
	AvgResolutionMinutes int64 `json:"avg_resolution_minutes"`
}
