package capability

import (
	"encoding/json"
	"strings"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// DecodeJSON parses a model's JSON answer into T. Markdown code fences and
// text around the outermost object are tolerated. Failures are
// *agerrors.JSONParseError, which categorises as escalatable.
func DecodeJSON[T any](text string) (T, error) {
	var v T
	body := extractJSON(text)
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return v, &agerrors.JSONParseError{Input: truncate(text, 200), Message: err.Error()}
	}
	return v, nil
}

func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if i := strings.LastIndex(rest, "```"); i >= 0 {
			rest = rest[:i]
		}
		s = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
