package classification

import (
	"regexp"
	"strings"

	"triage_server/core/domain"
)

// =============================================================================
// Hard-block and override pattern sets
// =============================================================================

// suspiciousPatterns match phishing-shaped content: account-verification
// pressure and implausibly large amounts. Any hit is a hard block.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verify your account immediately`),
	regexp.MustCompile(`(?i)confirm your (password|identity|account)`),
	regexp.MustCompile(`(?i)account (has been |will be )?(suspended|locked|closed)`),
	regexp.MustCompile(`(?i)you (have )?won`),
	regexp.MustCompile(`(?i)claim your (prize|reward)`),
	regexp.MustCompile(`\$\s?\d{1,3}(,\d{3}){2,}`), // $1,000,000 and up
	regexp.MustCompile(`(?i)urgent wire transfer`),
}

// financialPatterns force human approval without blocking: money is moving
// or being requested, so nothing goes out unattended.
var financialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\binvoice\b`),
	regexp.MustCompile(`(?i)wire transfer`),
	regexp.MustCompile(`(?i)bank account`),
	regexp.MustCompile(`(?i)payment (due|overdue|required)`),
	regexp.MustCompile(`[$€£]\s?\d`),
}

func matchesAny(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, p := range patterns {
		if p.MatchString(text) {
			return p.String(), true
		}
	}
	return "", false
}

// offLimitsMatch checks the sender against the off-limits contact list:
// exact address, "*@domain" wildcard, or substring pattern.
func offLimitsMatch(list []string, sender string) (string, bool) {
	addr := domain.NormalizeAddress(sender)
	for _, raw := range list {
		entry := strings.ToLower(strings.TrimSpace(raw))
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "*@"):
			if addrDomain(addr) == entry[2:] {
				return entry, true
			}
		case entry == addr:
			return entry, true
		case strings.Contains(addr, entry):
			return entry, true
		}
	}
	return "", false
}

// criticalDomainMatch checks the sender domain against the critical set
// (government, bank, legal). Subdomains of a listed domain match too.
func criticalDomainMatch(list []string, sender string) (string, bool) {
	dom := addrDomain(domain.NormalizeAddress(sender))
	for _, raw := range list {
		entry := strings.ToLower(strings.TrimSpace(raw))
		if entry == "" {
			continue
		}
		if dom == entry || strings.HasSuffix(dom, "."+entry) {
			return entry, true
		}
	}
	return "", false
}

// noAutoReplyDomain reports whether the sender's domain is configured to
// never receive an automatic reply.
func noAutoReplyDomain(list []string, sender string) bool {
	_, ok := criticalDomainMatch(list, sender)
	return ok
}
