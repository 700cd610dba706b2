package fingerprint

import (
	"testing"
	"time"

	"triage_server/core/domain"
)

func TestCompute_Stable(t *testing.T) {
	h := New(0)

	a := h.Compute("Quarterly Report", "alice@example.com", "Please find attached the numbers.")
	b := h.Compute("  quarterly report ", "Alice <ALICE@example.com>", "Please find attached the numbers.")

	if a != b {
		t.Errorf("normalized inputs should produce the same fingerprint: %s != %s", a, b)
	}
}

func TestCompute_UnrelatedFieldsIgnored(t *testing.T) {
	h := New(0)

	m1 := &domain.Message{
		ID:         "msg-1",
		From:       "alice@example.com",
		Subject:    "Lunch?",
		Body:       "Are you free tomorrow?",
		ReceivedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	m2 := &domain.Message{
		ID:         "msg-2",
		From:       "alice@example.com",
		To:         []string{"someone-else@example.com"},
		Subject:    "Lunch?",
		Body:       "Are you free tomorrow?",
		ReceivedAt: time.Date(2025, 3, 15, 17, 30, 0, 0, time.UTC),
	}

	if h.ComputeMessage(m1) != h.ComputeMessage(m2) {
		t.Error("fingerprint should ignore id, recipients and received time")
	}
}

func TestCompute_BodyPrefixBounded(t *testing.T) {
	h := New(10)

	a := h.Compute("s", "x@y.com", "0123456789 tail one")
	b := h.Compute("s", "x@y.com", "0123456789 tail two")
	if a != b {
		t.Error("bodies identical within the prefix should match")
	}

	c := h.Compute("s", "x@y.com", "different!")
	if a == c {
		t.Error("bodies differing within the prefix should not match")
	}
}

func TestCompute_DistinctInputs(t *testing.T) {
	h := New(0)

	tests := []struct {
		name             string
		subjA, fromA, bodyA string
		subjB, fromB, bodyB string
	}{
		{"different subject", "a", "x@y.com", "body", "b", "x@y.com", "body"},
		{"different sender", "a", "x@y.com", "body", "a", "z@y.com", "body"},
		{"different body", "a", "x@y.com", "body1", "a", "x@y.com", "body2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Compute(tt.subjA, tt.fromA, tt.bodyA) == h.Compute(tt.subjB, tt.fromB, tt.bodyB) {
				t.Error("distinct inputs should produce distinct fingerprints")
			}
		})
	}
}
