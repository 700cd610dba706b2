package thread

import "testing"

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Project kickoff", "project kickoff"},
		{"single re", "Re: Project kickoff", "project kickoff"},
		{"repeated markers", "RE: Fwd: re: Project kickoff", "project kickoff"},
		{"fw variant", "FW: Budget", "budget"},
		{"counted reply", "Re[2]: Budget", "budget"},
		{"whitespace collapse", "  Project   kickoff \t notes ", "project kickoff notes"},
		{"empty", "", ""},
		{"only marker", "Re:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.in); got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestThreadKey_OrderIndependent(t *testing.T) {
	a := ThreadKey("budget", []string{"a@x.com", "b@x.com"})
	b := ThreadKey("budget", []string{"b@x.com", "a@x.com"})
	if a != b {
		t.Error("participant order should not change the key")
	}

	c := ThreadKey("budget", []string{"a@x.com", "c@x.com"})
	if a == c {
		t.Error("different participant sets should produce different keys")
	}
}

func TestSubjectSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		atLeast float64
		below   float64
	}{
		{"identical", "project kickoff", "project kickoff", 1.0, 1.01},
		{"one edit", "project kickoff", "project kickofs", 0.9, 1.0},
		{"unrelated", "project kickoff", "invoice overdue", 0.0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subjectSimilarity(tt.a, tt.b)
			if got < tt.atLeast || got >= tt.below {
				t.Errorf("subjectSimilarity(%q, %q) = %f, want [%f, %f)", tt.a, tt.b, got, tt.atLeast, tt.below)
			}
		})
	}
}

func TestParticipantOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1.0},
		{"half", []string{"a", "b"}, []string{"a", "c"}, 0.5},
		{"disjoint", []string{"a"}, []string{"b"}, 0.0},
		{"sized by larger set", []string{"a"}, []string{"a", "b", "c", "d"}, 0.25},
		{"empty", nil, []string{"a"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := participantOverlap(tt.a, tt.b); got != tt.want {
				t.Errorf("participantOverlap = %f, want %f", got, tt.want)
			}
		})
	}
}
