package classification

import (
	"strings"
	"time"

	"triage_server/core/domain"
)

// Config lists every recognized classification option and its default.
// Confidence values are design-chosen constants per rule branch, not
// calibrated probabilities.
type Config struct {
	// Rule inputs
	UrgencyKeywords    []string
	ImportanceKeywords []string
	VIPSenders         []string

	// Security lists
	OffLimitsContacts  []string // exact address, "*@domain" wildcard, or substring pattern
	CriticalDomains    []string // government / bank / legal — always manual review
	NoAutoReplyDomains []string

	// Confidence constants and validation thresholds
	Tier1Confidence    float64
	Tier2Confidence    float64
	Tier3Confidence    float64
	Tier4Confidence    float64
	Tier1MinConfidence float64
	Tier2MinConfidence float64

	// Recency windows
	Tier1MaxAge time.Duration
	Tier2MaxAge time.Duration

	// Result cache
	CacheTTL time.Duration
}

// DefaultConfig returns the default classification configuration.
func DefaultConfig() *Config {
	return &Config{
		UrgencyKeywords:    []string{"urgent", "asap", "immediately", "emergency", "deadline today", "right away", "critical"},
		ImportanceKeywords: []string{"important", "deadline", "contract", "review needed", "action required", "meeting", "proposal"},

		CriticalDomains: []string{"irs.gov", "ssa.gov", "uscourts.gov"},

		Tier1Confidence:    0.95,
		Tier2Confidence:    0.90,
		Tier3Confidence:    0.75,
		Tier4Confidence:    0.70,
		Tier1MinConfidence: 0.95,
		Tier2MinConfidence: 0.90,

		Tier1MaxAge: 2 * time.Hour,
		Tier2MaxAge: 24 * time.Hour,

		CacheTTL: time.Hour,
	}
}

// isVIP matches the normalized sender against the VIP list (exact address
// or bare domain entry).
func (c *Config) isVIP(sender string) bool {
	addr := domain.NormalizeAddress(sender)
	dom := addrDomain(addr)
	for _, v := range c.VIPSenders {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == addr || v == dom {
			return true
		}
	}
	return false
}

// automatedSenderPrefixes mark machine-generated senders. Such a contact is
// never "known" for tier-2 purposes and demotes to the flag tier.
var automatedSenderPrefixes = []string{
	"noreply@", "no-reply@", "donotreply@", "do-not-reply@",
	"notifications@", "notification@", "mailer-daemon@", "bounce@", "alerts@",
}

func isAutomatedSender(addr string) bool {
	for _, p := range automatedSenderPrefixes {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func addrDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
