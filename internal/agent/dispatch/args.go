package dispatch

import (
	"encoding/json"
	"strings"
)

// ArgumentsFromTemplate turns a ReWOO argument string into an argument map.
// A JSON object is used as is. Otherwise the text is split on commas onto
// the declared positional names, the last name taking the remainder. A tool
// with one positional name receives the whole text.
func ArgumentsFromTemplate(template string, positional []string) map[string]any {
	s := strings.TrimSpace(template)
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if json.Unmarshal([]byte(s), &obj) == nil {
			return obj
		}
	}

	switch len(positional) {
	case 0:
		if s == "" {
			return map[string]any{}
		}
		return map[string]any{"input": unquote(s)}
	case 1:
		return map[string]any{positional[0]: unquote(s)}
	}

	args := map[string]any{}
	if s == "" {
		return args
	}
	parts := strings.SplitN(s, ",", len(positional))
	for i, p := range parts {
		p = unquote(p)
		if p == "" {
			continue
		}
		args[positional[i]] = p
	}
	return args
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
