package reasoning

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   string
	}{
		{
			name:   "fenced block",
			input:  "Here is my analysis.\n```json\n{\"has_contradiction\": true}\n```\nDone.",
			wantOK: true,
			want:   `{"has_contradiction": true}`,
		},
		{
			name:   "bare json object",
			input:  `  {"has_contradiction": false}  `,
			wantOK: true,
			want:   `{"has_contradiction": false}`,
		},
		{
			name:   "bare json array",
			input:  `[1, 2, 3]`,
			wantOK: true,
			want:   `[1, 2, 3]`,
		},
		{
			name:   "malformed fenced block is not coerced",
			input:  "```json\n{\"has_contradiction\": tru\n```",
			wantOK: false,
		},
		{
			name:   "prose only",
			input:  "I could not find any contradiction between these memos.",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
		{
			name:   "fenced block wins over surrounding prose braces",
			input:  "{not json}\n```json\n{\"ok\": 1}\n```",
			wantOK: true,
			want:   `{"ok": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := ExtractJSONBlock(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.True(t, json.Valid(raw))
				assert.JSONEq(t, tt.want, string(raw))
			} else {
				assert.Nil(t, raw)
			}
		})
	}
}
