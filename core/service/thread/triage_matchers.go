package thread

import (
	"strings"

	"triage_server/core/domain"
)

// Candidate is a thread plus the detector's message-id index view a matcher
// may consult.
type Candidate struct {
	Thread *domain.Thread
}

// Matcher is one strategy for attaching a message to an existing thread.
// Strategies are composed in strict precedence order, first match wins, and
// each is independently testable.
type Matcher interface {
	Name() string
	Match(msg *domain.Message, candidates []*domain.Thread) (threadID string, ok bool)
}

// =============================================================================
// 1. Explicit linkage — In-Reply-To / References
// =============================================================================

// ExplicitRefMatcher resolves in-reply-to and references ids against known
// member message ids. Explicit linkage beats any amount of subject drift.
type ExplicitRefMatcher struct {
	// messageThread maps a known message id to its thread id.
	messageThread func(messageID string) (string, bool)
}

// NewExplicitRefMatcher creates the matcher over a message-id lookup.
func NewExplicitRefMatcher(lookup func(messageID string) (string, bool)) *ExplicitRefMatcher {
	return &ExplicitRefMatcher{messageThread: lookup}
}

func (m *ExplicitRefMatcher) Name() string { return "explicit-ref" }

func (m *ExplicitRefMatcher) Match(msg *domain.Message, _ []*domain.Thread) (string, bool) {
	if msg.InReplyTo != "" {
		if id, ok := m.messageThread(msg.InReplyTo); ok {
			return id, true
		}
	}
	for _, ref := range msg.References {
		if id, ok := m.messageThread(ref); ok {
			return id, true
		}
	}
	return "", false
}

// =============================================================================
// 2. Exact key — (normalized subject, sorted participants)
// =============================================================================

// ExactKeyMatcher matches on the hash of the normalized subject plus the
// sorted unique participant set.
type ExactKeyMatcher struct{}

func (ExactKeyMatcher) Name() string { return "exact-key" }

func (ExactKeyMatcher) Match(msg *domain.Message, candidates []*domain.Thread) (string, bool) {
	key := ThreadKey(NormalizeSubject(msg.Subject), msg.Participants())
	for _, t := range candidates {
		if t.Key == key {
			return t.ID, true
		}
	}
	return "", false
}

// =============================================================================
// 3. Fuzzy — subject containment or edit distance, plus participant overlap
// =============================================================================

// FuzzyMatcher accepts a thread when the normalized subjects contain each
// other or are similar past SubjectThreshold, AND the participant sets
// overlap past OverlapThreshold.
type FuzzyMatcher struct {
	SubjectThreshold float64 // default 0.8
	OverlapThreshold float64 // default 0.7
}

// NewFuzzyMatcher creates a fuzzy matcher with the default thresholds.
func NewFuzzyMatcher() *FuzzyMatcher {
	return &FuzzyMatcher{SubjectThreshold: 0.8, OverlapThreshold: 0.7}
}

func (m *FuzzyMatcher) Name() string { return "fuzzy" }

func (m *FuzzyMatcher) Match(msg *domain.Message, candidates []*domain.Thread) (string, bool) {
	subject := NormalizeSubject(msg.Subject)
	participants := msg.Participants()

	// O(existing-threads) per message; fine at tens of messages per batch.
	for _, t := range candidates {
		if !m.subjectMatches(subject, t.Subject) {
			continue
		}
		if participantOverlap(participants, t.Participants) > m.OverlapThreshold {
			return t.ID, true
		}
	}
	return "", false
}

func (m *FuzzyMatcher) subjectMatches(subject, threadSubject string) bool {
	if subject == "" || threadSubject == "" {
		return false
	}
	if strings.Contains(subject, threadSubject) || strings.Contains(threadSubject, subject) {
		return true
	}
	return subjectSimilarity(subject, threadSubject) > m.SubjectThreshold
}
