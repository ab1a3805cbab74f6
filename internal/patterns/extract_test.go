package patterns

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExtractPassReason(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "passed because clause",
			content: "After extensive diligence we passed on this deal because the unit economics never closed and the churn in the mid-market cohort kept climbing quarter over quarter.",
			want:    "the unit economics never closed",
		},
		{
			name:    "recommendation pass",
			content: "Recommendation: pass. The founding team is strong but the market timing is at least three years early and the capital requirements are enormous.",
			want:    "The founding team is strong",
		},
		{
			name:    "concerns include",
			content: "Overall a compelling story. Concerns include customer concentration above eighty percent and a cap table dispute that remains unresolved with seed investors.",
			want:    "customer concentration above eighty percent",
		},
		{
			name:    "key risks",
			content: "Key risks include regulatory exposure in all three launch geographies and the absence of any in-house compliance function to absorb it.",
			want:    "regulatory exposure in all three launch geographies",
		},
		{
			name:    "not recommend due to",
			content: "We do not recommend because the competitive landscape already has four better funded incumbents and no discernible wedge has been articulated.",
			want:    "the competitive landscape already has four",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPassReason(tt.content)
			assert.Contains(t, got, tt.want)
		})
	}

	t.Run("fallback truncates long content with ellipsis", func(t *testing.T) {
		content := strings.Repeat("neutral market commentary with no decision language ", 10)
		got := ExtractPassReason(content)
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, len(got), fallbackExcerptLen+3)
	})

	t.Run("fallback returns short content unchanged", func(t *testing.T) {
		got := ExtractPassReason("Short note.")
		assert.Equal(t, "Short note.", got)
	})

	t.Run("fallback never splits a multi-byte rune", func(t *testing.T) {
		content := strings.Repeat("é", fallbackExcerptLen)
		got := ExtractPassReason(content)
		assert.True(t, utf8.ValidString(got))
		assert.True(t, strings.HasSuffix(got, "..."))
	})
}

func TestTruncateOnRune(t *testing.T) {
	assert.Equal(t, "short", truncateOnRune("short", 100))
	assert.Equal(t, "abcde", truncateOnRune("abcdef", 5))

	// "é" is two bytes; a byte-level cut at 3 would land mid-rune.
	got := truncateOnRune("éé", 3)
	assert.Equal(t, "é", got)
	assert.True(t, utf8.ValidString(got))
}

func TestNormalizeCompanyName(t *testing.T) {
	assert.Equal(t, "gridsense", normalizeCompanyName("  GridSense "))
	assert.Equal(t, "", normalizeCompanyName("   "))
}
