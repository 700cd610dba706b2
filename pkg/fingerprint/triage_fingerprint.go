// Package fingerprint derives stable content fingerprints from email fields.
// The fingerprint is the dedup / near-duplicate key shared by the dedup
// engine and thread matching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"triage_server/core/domain"
)

// DefaultBodyPrefix is how many characters of the body participate in the
// hash. Enough to distinguish real content, small enough that trailing
// signatures and disclaimers do not break near-duplicate detection.
const DefaultBodyPrefix = 200

// Hasher computes content fingerprints with a fixed body prefix length.
type Hasher struct {
	bodyPrefix int
}

// New creates a Hasher. bodyPrefix <= 0 falls back to DefaultBodyPrefix.
func New(bodyPrefix int) *Hasher {
	if bodyPrefix <= 0 {
		bodyPrefix = DefaultBodyPrefix
	}
	return &Hasher{bodyPrefix: bodyPrefix}
}

// Compute hashes normalized (lower-cased, trimmed) subject + sender + body
// prefix. Two messages that agree on those three fields produce the same
// fingerprint regardless of any other field.
func (h *Hasher) Compute(subject, sender, body string) domain.Fingerprint {
	subject = strings.ToLower(strings.TrimSpace(subject))
	sender = domain.NormalizeAddress(sender)

	body = strings.TrimSpace(body)
	if len(body) > h.bodyPrefix {
		body = body[:h.bodyPrefix]
	}
	body = strings.ToLower(body)

	sum := sha256.Sum256([]byte(subject + "|" + sender + "|" + body))
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// ComputeMessage is a convenience over Compute for a full message.
func (h *Hasher) ComputeMessage(m *domain.Message) domain.Fingerprint {
	return h.Compute(m.Subject, m.From, m.Body)
}
