package thread

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// replyPrefix matches leading reply/forward markers, possibly repeated:
// "Re:", "RE:", "Fwd:", "FW:", "Fw:" and bracketed counters like "Re[2]:".
var replyPrefix = regexp.MustCompile(`^(?i)\s*((re|fwd?|fw)(\[\d+\])?:\s*)+`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeSubject strips reply/forward prefixes, collapses whitespace and
// lower-cases. The result is the canonical cleaned subject used for thread
// keys and fuzzy matching.
func NormalizeSubject(subject string) string {
	s := replyPrefix.ReplaceAllString(subject, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// ThreadKey derives the exact-match key from the normalized subject and the
// sorted unique participant set.
func ThreadKey(normalizedSubject string, participants []string) string {
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(normalizedSubject + "|" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:16])
}

// subjectSimilarity is 1 − levenshtein(a, b) / max(len(a), len(b)).
func subjectSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row DP over bytes. Subjects
// are already normalized, so byte-wise distance is close enough.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// participantOverlap is |a ∩ b| / max(|a|, |b|).
func participantOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	shared := 0
	for _, p := range b {
		if _, ok := set[p]; ok {
			shared++
		}
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return float64(shared) / float64(maxLen)
}
