package model

import (
	"strings"
	"unicode"
)

// Reflection is the critique of one draft.
type Reflection struct {
	Missing       string   `json:"missing"`
	Superfluous   string   `json:"superfluous"`
	SearchQueries []string `json:"search_queries"`
	// Raw holds the model text the critique was parsed from.
	Raw string `json:"-"`
}

// satisfactionPhrases are matched case-insensitively against the critique.
var satisfactionPhrases = []string{
	"đã đạt yêu cầu",
	"good enough",
	"meets the requirements",
	"no further improvement",
	"no improvement needed",
	"answer is satisfactory",
	"nothing is missing",
}

// negations void a satisfaction phrase when they appear in front of it.
var negations = map[string]bool{
	"not": true, "no": true, "never": true, "hardly": true,
	"isn't": true, "isnt": true, "wasn't": true, "doesn't": true,
	"không": true, "chưa": true,
}

// Satisfied reports whether the critique explicitly accepts the draft: the
// "missing" aspect ends with a satisfaction phrase that is not negated, and
// no follow-up query was requested.
func (r Reflection) Satisfied() bool {
	if len(r.SearchQueries) > 0 {
		return false
	}
	return ContainsSatisfaction(r.Missing)
}

// ContainsSatisfaction reports whether text closes with one of the fixed
// "good enough" phrases and nothing before it negates the phrase.
func ContainsSatisfaction(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, " .!\"'")
	for _, p := range satisfactionPhrases {
		if !strings.HasSuffix(t, p) {
			continue
		}
		return !negated(strings.TrimSuffix(t, p))
	}
	return false
}

func negated(prefix string) bool {
	words := strings.FieldsFunc(prefix, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if negations[w] || strings.HasSuffix(w, "n't") {
			return true
		}
	}
	return false
}

// Text renders the critique for the revision prompt.
func (r Reflection) Text() string {
	var sb strings.Builder
	sb.WriteString("Missing: ")
	sb.WriteString(orNone(r.Missing))
	sb.WriteString("\nSuperfluous: ")
	sb.WriteString(orNone(r.Superfluous))
	if len(r.SearchQueries) > 0 {
		sb.WriteString("\nFollow-up queries: ")
		sb.WriteString(strings.Join(r.SearchQueries, "; "))
	}
	return sb.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
