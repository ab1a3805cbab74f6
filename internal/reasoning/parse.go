package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"
)

// jsonFence matches a fenced ```json block anywhere in a response.
var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractJSONBlock locates a structured JSON block inside untrusted model
// output. It prefers a fenced ```json block and falls back to treating the
// whole trimmed response as JSON.
//
// The second return value reports whether a valid block was found. Malformed
// or absent JSON is not an error condition here; callers decide how to
// degrade, and must never coerce an unparseable response into an affirmative
// result.
func ExtractJSONBlock(text string) (json.RawMessage, bool) {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
		return nil, false
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}
	return nil, false
}
