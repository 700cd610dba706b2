package domain

import (
	"fmt"
	"time"
)

// Tier is the priority bucket assigned to a message: 1 (most urgent) through
// 4 (flag-only), or Blocked when a hard security rule fired.
type Tier int

const (
	TierBlocked Tier = 0
	Tier1       Tier = 1
	Tier2       Tier = 2
	Tier3       Tier = 3
	Tier4       Tier = 4
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	case Tier4:
		return "tier4"
	case TierBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether the tier is one of the closed set.
func (t Tier) Valid() bool {
	return t >= TierBlocked && t <= Tier4
}

// SuggestedAction is the closed set of actions the engine may propose.
type SuggestedAction string

const (
	ActionAutoReply        SuggestedAction = "auto_reply"
	ActionDraftAndSchedule SuggestedAction = "draft_and_schedule"
	ActionDraft            SuggestedAction = "draft"
	ActionFlag             SuggestedAction = "flag"
	ActionBlock            SuggestedAction = "block"
)

// Valid reports whether the action is one of the recognized set. An
// unrecognized action is a validation failure, not a new behavior.
func (a SuggestedAction) Valid() bool {
	switch a {
	case ActionAutoReply, ActionDraftAndSchedule, ActionDraft, ActionFlag, ActionBlock:
		return true
	}
	return false
}

// ClassificationResult is produced once per message and immutable after
// creation. Reasons is append-only and kept for audit. Confidence is a
// design-chosen constant per rule branch, not a calibrated probability.
type ClassificationResult struct {
	MessageID        string          `json:"message_id"`
	ThreadID         string          `json:"thread_id,omitempty"`
	Fingerprint      Fingerprint     `json:"fingerprint"`
	Tier             Tier            `json:"tier"`
	Confidence       float64         `json:"confidence"`
	SuggestedAction  SuggestedAction `json:"suggested_action"`
	RequiresApproval bool            `json:"requires_approval"`
	Reasons          []string        `json:"reasons"`
	FromCache        bool            `json:"from_cache,omitempty"`
	ClassifiedAt     time.Time       `json:"classified_at"`
}

// Blocked reports whether a hard rule converted this result to a block.
func (r *ClassificationResult) Blocked() bool {
	return r.Tier == TierBlocked
}

// EngineStats are the running classification counters kept for observability.
type EngineStats struct {
	TotalClassified int64           `json:"total_classified"`
	TierCounts      map[string]int64 `json:"tier_counts"`
	BlockedCount    int64           `json:"blocked_count"`
	CacheHits       int64           `json:"cache_hits"`
}
