package workflow

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

var thinkRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think>...</think> reasoning blocks that some workflow
// backends leak into their text outputs, leaving the JSON/text after them.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRE.ReplaceAllString(s, ""))
}

// ParseMixed extracts a JSON object from a workflow output value. The value
// may already be a decoded object, or a string with reasoning noise around
// the JSON; in the latter case everything between the first '{' and the
// last '}' is parsed. Returns nil when no object can be recovered.
func ParseMixed(v any) map[string]any {
	switch s := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	case string:
		cleaned := StripThink(s)
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start == -1 || end <= start {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}
