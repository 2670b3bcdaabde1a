package parsers

import (
	"regexp"
	"strings"

	"github.com/agentloop-core/server/internal/agent/model"
)

// basic safety limits to avoid pathological planner output
const (
	maxPlanLen   = 64 * 1024
	maxPlanSteps = 32
)

var (
	stepPattern = regexp.MustCompile(`^(#E\d+)\s*=\s*(\w+)\s*\[(.*)\]\s*$`)
	planPattern = regexp.MustCompile(`(?i)^plan\s*(?:\d+)?\s*:\s*(.*)$`)
)

// PlanMetadata reports what the parser skipped.
type PlanMetadata struct {
	SkippedLines []string
	Duplicates   []string
	Truncated    bool
}

// ParsePlan extracts plan steps from planner text in textual order. Lines
// that do not match the step grammar are skipped. A step id that repeats an
// earlier one is dropped so the result store never overwrites.
func ParsePlan(text string) (*model.Plan, *PlanMetadata) {
	meta := &PlanMetadata{}
	if len(text) > maxPlanLen {
		text = text[:maxPlanLen]
		meta.Truncated = true
	}

	plan := &model.Plan{Raw: text}
	seen := map[string]bool{}
	description := ""

	for _, raw := range strings.Split(text, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		if m := planPattern.FindStringSubmatch(line); m != nil {
			description = strings.TrimSpace(m[1])
			continue
		}
		m := stepPattern.FindStringSubmatch(line)
		if m == nil {
			meta.SkippedLines = append(meta.SkippedLines, safeSnippet(line))
			continue
		}
		id := m[1]
		if seen[id] {
			meta.Duplicates = append(meta.Duplicates, id)
			continue
		}
		if len(plan.Steps) >= maxPlanSteps {
			meta.Truncated = true
			break
		}
		seen[id] = true
		plan.Steps = append(plan.Steps, model.PlanStep{
			Description: description,
			ID:          id,
			Tool:        m[2],
			Args:        strings.TrimSpace(m[3]),
		})
		description = ""
	}
	return plan, meta
}

// cleanLine strips list markers and markdown emphasis models like to add.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*> ")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(s)
}

const maxErrSnippet = 120

func safeSnippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet] + "..."
}
