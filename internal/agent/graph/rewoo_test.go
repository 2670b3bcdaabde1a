package graph

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/model"
)

const (
	plannerMarker = "make a plan"
	solverMarker  = "Solve the task"
)

// rewooScript answers the planner with plan, the solver with "final" and
// LLM steps with a summary.
func rewooScript(plan string) respondFunc {
	return func(system string, in []*schema.Message) *schema.Message {
		switch {
		case strings.Contains(system, plannerMarker):
			return answer(plan)
		case strings.Contains(system, solverMarker):
			return answer("final")
		case system == "":
			return answer("summary of " + in[len(in)-1].Content)
		}
		return nil
	}
}

func TestReWOOSubstitutesEarlierEvidence(t *testing.T) {
	plan := "Plan: find the price\n#E1 = toolA[x]\nPlan: compare it\n#E2 = toolB[#E1, y]"
	m := newScriptedModel(rewooScript(plan))
	toolA := newFakeTool("toolA", []string{"query"}, returns("R1"))
	toolB := newFakeTool("toolB", []string{"first", "second"}, returns("B-out"))

	out, conv := run(t, newTestConfig(t, model.StrategyReWOO, m, 25, toolA, toolB), "compare")
	assert.Equal(t, "final", out.Content)

	require.Len(t, toolA.calls(), 1)
	assert.Equal(t, map[string]any{"query": "x"}, toolA.calls()[0])
	require.Len(t, toolB.calls(), 1)
	assert.Equal(t, map[string]any{"first": "R1", "second": "y"}, toolB.calls()[0])

	solverIn := m.lastInputWith(solverMarker)
	require.NotNil(t, solverIn)
	evidence := solverIn[0].Content
	assert.Contains(t, evidence, "#E1 = toolA[x]\nEvidence: R1")
	assert.Contains(t, evidence, "#E2 = toolB[#E1, y]\nEvidence: B-out")
	assert.Less(t, strings.Index(evidence, "Evidence: R1"), strings.Index(evidence, "Evidence: B-out"))

	assert.Equal(t, []string{"toolA", "toolB"}, conv.Ledger().UsedTools())
	assert.Equal(t, 4, conv.StepCount())

	var steps []string
	for _, msg := range conv.Messages() {
		if msg.Role == schema.Tool {
			steps = append(steps, msg.Extra[model.ExtraPlanStep].(string))
		}
	}
	assert.Equal(t, []string{"#E1", "#E2"}, steps)
}

func TestReWOOSkipsMalformedPlanLines(t *testing.T) {
	plan := "Plan: one step\n#E1 = toolA[x]\nthen do something clever\n#E2 toolB missing brackets"
	m := newScriptedModel(rewooScript(plan))
	toolA := newFakeTool("toolA", []string{"query"}, returns("R1"))
	toolB := newFakeTool("toolB", []string{"first"}, returns("unused"))

	out, conv := run(t, newTestConfig(t, model.StrategyReWOO, m, 25, toolA, toolB), "q")
	assert.Equal(t, "final", out.Content)
	assert.Len(t, toolA.calls(), 1)
	assert.Empty(t, toolB.calls())
	assert.Equal(t, 3, conv.StepCount())
	assert.Equal(t, 1, m.callsWith(solverMarker))
}

func TestReWOOEmptyPlanSolvesWithoutEvidence(t *testing.T) {
	m := newScriptedModel(rewooScript("I will just answer directly."))
	toolA := newFakeTool("toolA", []string{"query"}, returns("unused"))

	out, conv := run(t, newTestConfig(t, model.StrategyReWOO, m, 25, toolA), "q")
	assert.Equal(t, "final", out.Content)
	assert.Empty(t, toolA.calls())
	assert.Equal(t, 2, conv.StepCount())
}

func TestReWOOPassesUnknownReferencesThrough(t *testing.T) {
	m := newScriptedModel(rewooScript("#E1 = toolA[#E3 and more]"))
	toolA := newFakeTool("toolA", []string{"query"}, returns("R1"))

	run(t, newTestConfig(t, model.StrategyReWOO, m, 25, toolA), "q")
	require.Len(t, toolA.calls(), 1)
	assert.Equal(t, "#E3 and more", toolA.calls()[0]["query"])
}

func TestReWOOLLMStepAndFailures(t *testing.T) {
	plan := "#E1 = toolA[x]\n#E2 = nope[#E1]\n#E3 = LLM[condense #E1]"
	m := newScriptedModel(rewooScript(plan))
	toolA := newFakeTool("toolA", []string{"query"}, returns("R1"))

	_, conv := run(t, newTestConfig(t, model.StrategyReWOO, m, 25, toolA), "q")

	solverIn := m.lastInputWith(solverMarker)
	require.NotNil(t, solverIn)
	assert.Contains(t, solverIn[0].Content, "Evidence: Error: unknown_tool")
	assert.Contains(t, solverIn[0].Content, "Evidence: summary of condense R1")

	assert.Equal(t, []string{"toolA"}, conv.Ledger().UsedTools())
	require.Len(t, conv.Ledger().Failures(), 1)
	assert.Equal(t, "nope", conv.Ledger().Failures()[0].Tool)
}

func TestReWOOStopsAtBudget(t *testing.T) {
	plan := "#E1 = toolA[x]\n#E2 = toolA[y]\n#E3 = toolA[z]"
	m := newScriptedModel(rewooScript(plan))
	toolA := newFakeTool("toolA", []string{"query"}, returns("R"))

	out, conv := run(t, newTestConfig(t, model.StrategyReWOO, m, 3, toolA), "q")
	assert.Equal(t, nodes.FallbackAnswer, out.Content)
	assert.True(t, model.IsFallback(out))
	assert.Len(t, toolA.calls(), 1)
	assert.Equal(t, 3, conv.StepCount())
	assert.Zero(t, m.callsWith(solverMarker))
}
