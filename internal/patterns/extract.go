package patterns

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// fallbackExcerptLen bounds the leading excerpt used when no pass-reason
// pattern matches.
const fallbackExcerptLen = 200

// passReasonPatterns are tried in order against memo content. They target
// the phrasings pass reasoning usually takes in IC memos. This is a
// best-effort heuristic, not a semantic guarantee: a match is a plausible
// reason span, and the fallback is an arbitrary leading excerpt.
var passReasonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)pass(?:ed|ing)?\s+(?:on\s+)?(?:this\s+)?(?:deal\s+)?(?:because|due to|as)\s+(.{50,300})`),
	regexp.MustCompile(`(?is)recommend(?:ation)?\s*:?\s*pass\s*[.\-:]\s*(.{50,300})`),
	regexp.MustCompile(`(?is)concerns?\s*(?:include|are|:)\s*(.{50,300})`),
	regexp.MustCompile(`(?is)(?:key\s+)?risks?\s*(?:include|are|:)\s*(.{50,300})`),
	regexp.MustCompile(`(?is)not\s+(?:recommend|proceed|invest)\s+(?:because|due to)\s*(.{50,300})`),
}

// ExtractPassReason pulls the most relevant pass-reason span from memo
// content, falling back to a fixed-length leading excerpt when no pattern
// matches.
func ExtractPassReason(content string) string {
	for _, pattern := range passReasonPatterns {
		if m := pattern.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	if len(content) > fallbackExcerptLen {
		return strings.TrimSpace(truncateOnRune(content, fallbackExcerptLen)) + "..."
	}
	return strings.TrimSpace(content)
}

// truncateOnRune cuts s to at most max bytes without splitting a UTF-8
// rune; the cut backs up to the nearest rune start.
func truncateOnRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// normalizeCompanyName canonicalizes a company name for deduplication.
func normalizeCompanyName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
