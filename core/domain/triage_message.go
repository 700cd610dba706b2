package domain

import (
	"strings"
	"time"
)

// Fingerprint is a deterministic hash over normalized subject, sender and a
// bounded body prefix. It is a dedup / near-duplicate key, not a
// cryptographic identity: a collision is treated as "same logical email".
type Fingerprint string

// Attachment describes a single attachment on an inbound message.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Risky    bool   `json:"risky"`
}

// Message is the unit of work for the triage pipeline. It is created when
// fetched from the mailbox and read-only afterward; the full body is not
// retained long-term, only a bounded prefix and the derived fingerprint.
type Message struct {
	ID         string   `json:"id"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"` // provider-assigned or inferred

	From string   `json:"from"`
	To   []string `json:"to"`
	Cc   []string `json:"cc,omitempty"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Age returns how long ago the message was received.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(m.ReceivedAt)
}

// HasAttachments reports whether the message carries any attachments.
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// SenderDomain returns the domain part of the From address, lower-cased.
func (m *Message) SenderDomain() string {
	addr := NormalizeAddress(m.From)
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// NormalizeAddress strips an optional display name ("Name <a@b>" → "a@b"),
// trims whitespace and lower-cases the address.
func NormalizeAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	if open := strings.LastIndex(addr, "<"); open >= 0 {
		if close := strings.LastIndex(addr, ">"); close > open {
			addr = addr[open+1 : close]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// Participants returns the normalized, de-duplicated set of addresses on
// From/To/Cc, sorted order is not guaranteed.
func (m *Message) Participants() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.Cc)+1)
	var out []string
	add := func(raw string) {
		addr := NormalizeAddress(raw)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(m.From)
	for _, a := range m.To {
		add(a)
	}
	for _, a := range m.Cc {
		add(a)
	}
	return out
}

// BodyExcerpt returns the first n characters of the body, whitespace-trimmed.
func (m *Message) BodyExcerpt(n int) string {
	body := strings.TrimSpace(m.Body)
	if len(body) <= n {
		return body
	}
	return body[:n]
}
