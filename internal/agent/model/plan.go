package model

import (
	"fmt"
	"regexp"
	"strings"
)

// LLMStepTool marks a plan step that is answered by the model itself.
const LLMStepTool = "LLM"

// PlanStep is one line of a ReWOO plan: `#E1 = tool[args]`.
type PlanStep struct {
	Description string `json:"description"`
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Args        string `json:"args"`
}

// Plan is created once per query by the planning phase and never modified.
type Plan struct {
	Steps []PlanStep `json:"steps"`
	Raw   string     `json:"-"`
}

func (p *Plan) Empty() bool { return p == nil || len(p.Steps) == 0 }

var stepRefPattern = regexp.MustCompile(`#E\d+`)

// ResultStore maps step ids to results in insertion order. Entries are
// never overwritten.
type ResultStore struct {
	order  []string
	values map[string]string
}

func NewResultStore() *ResultStore {
	return &ResultStore{values: map[string]string{}}
}

// Put stores the result of step id. Storing the same id twice is an error.
func (r *ResultStore) Put(id, value string) error {
	if _, ok := r.values[id]; ok {
		return fmt.Errorf("result for %s already stored", id)
	}
	r.order = append(r.order, id)
	r.values[id] = value
	return nil
}

func (r *ResultStore) Get(id string) (string, bool) {
	v, ok := r.values[id]
	return v, ok
}

// Keys returns step ids in insertion order.
func (r *ResultStore) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *ResultStore) Len() int { return len(r.order) }

// Substitute replaces every stored step reference in template with its
// result. References without a stored result are left as they are and
// returned in unresolved.
func (r *ResultStore) Substitute(template string) (resolved string, unresolved []string) {
	resolved = stepRefPattern.ReplaceAllStringFunc(template, func(ref string) string {
		if v, ok := r.values[ref]; ok {
			return v
		}
		unresolved = append(unresolved, ref)
		return ref
	})
	return resolved, unresolved
}

// Evidence renders the plan interleaved with stored results for the solver.
func (p *Plan) Evidence(results *ResultStore) string {
	if p.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, step := range p.Steps {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Plan: %s\n%s = %s[%s]\n", step.Description, step.ID, step.Tool, step.Args)
		if v, ok := results.Get(step.ID); ok {
			fmt.Fprintf(&sb, "Evidence: %s\n", v)
		} else {
			sb.WriteString("Evidence: (not executed)\n")
		}
	}
	return sb.String()
}
