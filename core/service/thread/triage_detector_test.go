package thread

import (
	"context"
	"testing"
	"time"

	"triage_server/core/domain"
)

func msg(id, from, subject string, at time.Time, to ...string) *domain.Message {
	return &domain.Message{
		ID:         id,
		From:       from,
		To:         to,
		Subject:    subject,
		Body:       "body of " + id,
		ReceivedAt: at,
	}
}

func TestRecord_CreatesThenMatchesExactKey(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-2 * time.Hour)

	first := d.Record(msg("m1", "alice@x.com", "Budget review", base, "me@corp.com"))
	second := d.Record(msg("m2", "alice@x.com", "Re: Budget review", base.Add(time.Hour), "me@corp.com"))

	if first != second {
		t.Errorf("reply with same participants should join thread %s, got %s", first, second)
	}

	th, ok := d.Get(first)
	if !ok {
		t.Fatal("thread not found")
	}
	if len(th.Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(th.Members))
	}
	if th.Subject != "budget review" {
		t.Errorf("canonical subject = %q", th.Subject)
	}
}

func TestRecord_ExplicitRefBeatsDivergedSubject(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-3 * time.Hour)

	id := d.Record(msg("m1", "alice@x.com", "Budget review", base, "me@corp.com"))

	reply := msg("m2", "bob@y.com", "Completely different topic now", base.Add(time.Hour), "me@corp.com")
	reply.InReplyTo = "m1"

	if got := d.Record(reply); got != id {
		t.Errorf("in-reply-to should pin thread %s even with diverged subject, got %s", id, got)
	}
}

func TestRecord_ReferencesHeader(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-3 * time.Hour)

	id := d.Record(msg("m1", "alice@x.com", "Launch plan", base, "me@corp.com"))

	reply := msg("m2", "carol@z.com", "totally new words", base.Add(time.Hour), "me@corp.com")
	reply.References = []string{"unknown-id", "m1"}

	if got := d.Record(reply); got != id {
		t.Errorf("references lookup should find thread %s, got %s", id, got)
	}
}

func TestRecord_FuzzyMatch(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-2 * time.Hour)

	id := d.Record(msg("m1", "alice@x.com", "Q3 planning session", base, "me@corp.com"))

	// Subject containment plus full participant overlap.
	follow := msg("m2", "alice@x.com", "Q3 planning session - updated agenda", base.Add(time.Hour), "me@corp.com")
	if got := d.Record(follow); got != id {
		t.Errorf("containment + overlap should fuzzy-match thread %s, got %s", id, got)
	}
}

func TestRecord_FuzzyRejectsLowParticipantOverlap(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-2 * time.Hour)

	id := d.Record(msg("m1", "alice@x.com", "Q3 planning session", base, "me@corp.com", "bob@x.com", "carol@x.com"))

	// Same subject but almost entirely different people.
	other := msg("m2", "dave@q.com", "Q3 planning session", base.Add(time.Hour), "erin@q.com", "frank@q.com")
	if got := d.Record(other); got == id {
		t.Error("low participant overlap should create a new thread")
	}
}

func TestRecord_NewThreadWhenNoMatch(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now()

	a := d.Record(msg("m1", "alice@x.com", "Topic one", base, "me@corp.com"))
	b := d.Record(msg("m2", "zed@other.com", "Totally unrelated", base, "me@corp.com"))

	if a == b {
		t.Error("unrelated messages should land in separate threads")
	}
	if d.Len() != 2 {
		t.Errorf("expected 2 threads, got %d", d.Len())
	}
}

func TestThreadStatusDerivation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		fromSelf bool
		age      time.Duration
		want     domain.ThreadStatus
	}{
		{"self last always waiting", true, 100 * time.Hour, domain.ThreadWaitingForResponse},
		{"recent from other", false, time.Hour, domain.ThreadActive},
		{"aging from other", false, 30 * time.Hour, domain.ThreadAging},
		{"stale from other", false, 60 * time.Hour, domain.ThreadStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := &domain.Thread{Members: []domain.ThreadMessage{{
				ReceivedAt: now.Add(-tt.age),
				FromSelf:   tt.fromSelf,
			}}}
			if got := th.Status(now); got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNeedsFollowUp(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		fromSelf bool
		age      time.Duration
		want     domain.FollowUpUrgency
	}{
		{"self waiting long", true, 80 * time.Hour, domain.FollowUpHigh},
		{"self waiting briefly", true, 10 * time.Hour, domain.FollowUpNone},
		{"other unanswered", false, 30 * time.Hour, domain.FollowUpMedium},
		{"other fresh", false, 2 * time.Hour, domain.FollowUpNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := &domain.Thread{Members: []domain.ThreadMessage{{
				ReceivedAt: now.Add(-tt.age),
				FromSelf:   tt.fromSelf,
			}}}
			if got := th.NeedsFollowUp(now); got != tt.want {
				t.Errorf("NeedsFollowUp = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecord_RollingStats(t *testing.T) {
	d := NewDetector(DefaultConfig("me@corp.com"), nil)
	base := time.Now().Add(-4 * time.Hour)

	id := d.Record(msg("m1", "alice@x.com", "Standup notes", base, "me@corp.com"))
	reply := msg("m2", "me@corp.com", "Re: Standup notes", base.Add(time.Hour), "alice@x.com")
	reply.InReplyTo = "m1"
	d.Record(reply)

	th, _ := d.Get(id)
	if th.SelfCount != 1 || th.OtherCount != 1 {
		t.Errorf("self/other counts = %d/%d, want 1/1", th.SelfCount, th.OtherCount)
	}
	if th.AvgResponseLatency != time.Hour {
		t.Errorf("avg response latency = %v, want 1h", th.AvgResponseLatency)
	}
}

func TestSweep_DropsIdleThreads(t *testing.T) {
	cfg := DefaultConfig("me@corp.com")
	cfg.MaxAge = time.Millisecond
	d := NewDetector(cfg, nil)

	d.Record(msg("m1", "alice@x.com", "Old topic", time.Now().Add(-time.Hour), "me@corp.com"))
	time.Sleep(5 * time.Millisecond)

	if removed := d.Sweep(context.Background()); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if d.Len() != 0 {
		t.Errorf("thread index should be empty, has %d", d.Len())
	}
}
