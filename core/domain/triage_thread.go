package domain

import "time"

// ThreadStatus is derived from the most recent member message; it is never
// stored.
type ThreadStatus string

const (
	ThreadActive             ThreadStatus = "active"
	ThreadAging              ThreadStatus = "aging"
	ThreadStale              ThreadStatus = "stale"
	ThreadWaitingForResponse ThreadStatus = "waiting_for_response"
)

// FollowUpUrgency grades how badly a thread needs a follow-up.
type FollowUpUrgency string

const (
	FollowUpNone   FollowUpUrgency = "none"
	FollowUpMedium FollowUpUrgency = "medium"
	FollowUpHigh   FollowUpUrgency = "high"
)

// ThreadMessage is the bounded summary of a member message kept on a thread.
type ThreadMessage struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
	Excerpt    string    `json:"excerpt"`
	FromSelf   bool      `json:"from_self"`
}

// Thread represents a detected conversation. Members is append-only; the
// rolling stats are recomputed on every matched message. Every message
// belongs to exactly one thread.
type Thread struct {
	ID           string          `json:"id"`
	Key          string          `json:"key"` // hash of (normalized subject, sorted participants)
	Subject      string          `json:"subject"` // canonical cleaned subject
	Participants []string        `json:"participants"`
	Members      []ThreadMessage `json:"members"`

	SelfCount  int `json:"self_count"`
	OtherCount int `json:"other_count"`

	// AvgResponseLatency is the rolling mean gap between consecutive member
	// messages.
	AvgResponseLatency time.Duration `json:"avg_response_latency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastMessage returns the most recent member, or nil for an empty thread.
func (t *Thread) LastMessage() *ThreadMessage {
	if len(t.Members) == 0 {
		return nil
	}
	return &t.Members[len(t.Members)-1]
}

// Status derives the thread state at the given instant.
//
// waiting_for_response wins regardless of age: if self sent the last message
// the ball is in the other party's court.
func (t *Thread) Status(now time.Time) ThreadStatus {
	last := t.LastMessage()
	if last == nil {
		return ThreadStale
	}
	if last.FromSelf {
		return ThreadWaitingForResponse
	}
	age := now.Sub(last.ReceivedAt)
	switch {
	case age < 24*time.Hour:
		return ThreadActive
	case age < 48*time.Hour:
		return ThreadAging
	default:
		return ThreadStale
	}
}

// NeedsFollowUp grades the thread for follow-up: self sent the last message
// and more than 72h elapsed → high; the other party sent the last message and
// self has not replied in more than 24h → medium.
func (t *Thread) NeedsFollowUp(now time.Time) FollowUpUrgency {
	last := t.LastMessage()
	if last == nil {
		return FollowUpNone
	}
	age := now.Sub(last.ReceivedAt)
	if last.FromSelf && age > 72*time.Hour {
		return FollowUpHigh
	}
	if !last.FromSelf && age > 24*time.Hour {
		return FollowUpMedium
	}
	return FollowUpNone
}
