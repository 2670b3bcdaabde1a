package parsers

import (
	"encoding/json"
	"strings"

	"github.com/agentloop-core/server/internal/agent/model"
)

const maxSearchQueries = 3

type rawReflection struct {
	Missing       string   `json:"missing"`
	Superfluous   string   `json:"superfluous"`
	SearchQueries []string `json:"search_queries"`
	Reflection    *struct {
		Missing     string `json:"missing"`
		Superfluous string `json:"superfluous"`
	} `json:"reflection"`
}

// ParseReflection reads the reviewer reply. Both the flat shape and the
// nested {"reflection": {...}} shape are accepted; free text becomes the
// "missing" aspect.
func ParseReflection(text string) model.Reflection {
	r := model.Reflection{Raw: text}

	obj, ok := extractJSONObject(text)
	if !ok {
		r.Missing = strings.TrimSpace(text)
		return r
	}
	var raw rawReflection
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		r.Missing = strings.TrimSpace(text)
		return r
	}

	r.Missing = strings.TrimSpace(raw.Missing)
	r.Superfluous = strings.TrimSpace(raw.Superfluous)
	if raw.Reflection != nil {
		if r.Missing == "" {
			r.Missing = strings.TrimSpace(raw.Reflection.Missing)
		}
		if r.Superfluous == "" {
			r.Superfluous = strings.TrimSpace(raw.Reflection.Superfluous)
		}
	}
	for _, q := range raw.SearchQueries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		r.SearchQueries = append(r.SearchQueries, q)
		if len(r.SearchQueries) == maxSearchQueries {
			break
		}
	}
	return r
}
