package parsers

import (
	"encoding/json"
	"strings"

	"github.com/agentloop-core/server/internal/agent/model"
)

// ParseRoute reads the supervisor reply into a decision. next is matched
// case-insensitively against options; when it matches none, Next is empty
// and the caller applies its structural fallback.
func ParseRoute(text string, options []string) model.RouteDecision {
	var d model.RouteDecision
	if obj, ok := extractJSONObject(text); ok {
		_ = json.Unmarshal([]byte(obj), &d)
	} else {
		d.Next = firstOption(text, options)
	}
	d.Next = canonical(strings.TrimSpace(d.Next), options)
	d.Answer = strings.TrimSpace(d.Answer)
	return d
}

func canonical(next string, options []string) string {
	for _, o := range options {
		if strings.EqualFold(next, o) {
			return o
		}
	}
	return ""
}

// firstOption finds the earliest option named in free text.
func firstOption(text string, options []string) string {
	lower := strings.ToLower(text)
	best, bestIdx := "", -1
	for _, o := range options {
		if i := strings.Index(lower, strings.ToLower(o)); i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = o, i
		}
	}
	return best
}
