package graph

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop-core/server/internal/agent/graph/tools"
	"github.com/agentloop-core/server/internal/agent/model"
)

const (
	responderMarker = "Answer the user's question in detail"
	reviserMarker   = "revising your previous answer"
	reflectorMarker = "strict reviewer"
)

// reflexionScript numbers drafts and answers every critique with critique.
func reflexionScript(critique string) respondFunc {
	var mu sync.Mutex
	drafts := 0
	return func(system string, _ []*schema.Message) *schema.Message {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(system, reflectorMarker):
			return answer(critique)
		case strings.Contains(system, responderMarker), strings.Contains(system, reviserMarker):
			drafts++
			return answer(fmt.Sprintf("draft %d", drafts))
		}
		return nil
	}
}

func TestReflexionProducesAtMostThreeDrafts(t *testing.T) {
	critique := `{"missing": "no profit figures", "superfluous": "history of the bank", "search_queries": ["VCB profit 2024"]}`
	m := newScriptedModel(reflexionScript(critique))
	search := newFakeTool(tools.ToolSearchWeb, []string{"query"}, returns("VCB profit rose 20% in 2024 according to the annual report"))

	out, conv := run(t, newTestConfig(t, model.StrategyReflexion, m, 25, search), "How did VCB do in 2024?")

	assert.Equal(t, "draft 3", out.Content)
	assert.Equal(t, 1, m.callsWith(responderMarker))
	assert.Equal(t, 2, m.callsWith(reviserMarker))
	assert.Equal(t, 2, m.callsWith(reflectorMarker))

	var reflections []*schema.Message
	for _, msg := range conv.Messages() {
		if model.IsReflection(msg) {
			reflections = append(reflections, msg)
		}
	}
	require.Len(t, reflections, 2)
	assert.Contains(t, reflections[0].Content, "Missing: no profit figures")
	assert.Contains(t, reflections[0].Content, "Follow-up queries: VCB profit 2024")

	require.Len(t, search.calls(), 2)
	assert.Equal(t, map[string]any{"query": "VCB profit 2024"}, search.calls()[0])
	assert.Equal(t, []string{tools.ToolSearchWeb}, conv.Ledger().UsedTools())

	reviserIn := m.lastInputWith(reviserMarker)
	require.NotNil(t, reviserIn)
	assert.Contains(t, reviserIn[0].Content, "Missing: no profit figures")
}

func TestReflexionStopsWhenSatisfied(t *testing.T) {
	critique := `{"missing": "good enough", "superfluous": "", "search_queries": []}`
	m := newScriptedModel(reflexionScript(critique))
	search := newFakeTool(tools.ToolSearchWeb, []string{"query"}, returns("unused"))

	out, conv := run(t, newTestConfig(t, model.StrategyReflexion, m, 25, search), "q")

	assert.Equal(t, "draft 1", out.Content)
	assert.Equal(t, 1, m.callsWith(reflectorMarker))
	assert.Zero(t, m.callsWith(reviserMarker))
	assert.Empty(t, search.calls())
	assert.Equal(t, 2, conv.StepCount())
}

func TestReflexionRevisesAfterNegatedSatisfaction(t *testing.T) {
	critique := `{"missing": "The answer is not good enough: Q2 profit figures are missing", "search_queries": ["VCB Q2 2024 profit"]}`
	m := newScriptedModel(reflexionScript(critique))
	search := newFakeTool(tools.ToolSearchWeb, []string{"query"}, returns("VCB Q2 2024 profit was 5 trillion VND"))

	out, _ := run(t, newTestConfig(t, model.StrategyReflexion, m, 25, search), "q")

	assert.Equal(t, "draft 3", out.Content)
	assert.Equal(t, 2, m.callsWith(reviserMarker))
	assert.Len(t, search.calls(), 2)
}

func TestReflexionSkipsFollowUpWithoutMatchingTool(t *testing.T) {
	critique := `{"missing": "the CEO name", "search_queries": ["who is the CEO of VCB"]}`
	m := newScriptedModel(reflexionScript(critique))

	out, conv := run(t, newTestConfig(t, model.StrategyReflexion, m, 25), "q")

	assert.Equal(t, "draft 3", out.Content)
	assert.Empty(t, conv.Ledger().UsedTools())
	assert.Empty(t, conv.Ledger().Failures())
	for _, msg := range conv.Messages() {
		assert.NotEqual(t, schema.Tool, msg.Role)
	}
}

func TestReflexionAcceptsVietnameseSatisfaction(t *testing.T) {
	m := newScriptedModel(reflexionScript("Câu trả lời đã đạt yêu cầu."))
	out, _ := run(t, newTestConfig(t, model.StrategyReflexion, m, 25), "q")
	assert.Equal(t, "draft 1", out.Content)
}

func TestReflexionWithoutReflections(t *testing.T) {
	m := newScriptedModel(reflexionScript(`{"missing": "everything"}`))
	cfg := newTestConfig(t, model.StrategyReflexion, m, 25)
	cfg.Engine.MaxReflections = 0

	out, _ := run(t, cfg, "q")
	assert.Equal(t, "draft 1", out.Content)
	assert.Zero(t, m.callsWith(reflectorMarker))
}

func TestReflexionEndsWhenNoStepIsLeftForCritique(t *testing.T) {
	critique := `{"missing": "more data", "search_queries": []}`
	m := newScriptedModel(reflexionScript(critique))

	// draft (1), reflect (2), revise (3); the last step is kept for no one.
	out, conv := run(t, newTestConfig(t, model.StrategyReflexion, m, 4), "q")
	assert.Equal(t, "draft 2", out.Content)
	assert.Equal(t, 3, conv.StepCount())
	assert.Equal(t, 1, m.callsWith(reflectorMarker))
}

func TestReflexionKeepsRealDraftOverFallback(t *testing.T) {
	var mu sync.Mutex
	revisions := 0
	m := newScriptedModel(func(system string, _ []*schema.Message) *schema.Message {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(system, reflectorMarker):
			return answer(`{"missing": "more data"}`)
		case strings.Contains(system, responderMarker):
			return answer("draft 1")
		case strings.Contains(system, reviserMarker):
			revisions++
			return toolCall(tools.ToolSearchWeb, `{"query":"more"}`)
		}
		return nil
	})
	search := newFakeTool(tools.ToolSearchWeb, []string{"query"}, returns("more data"))

	// draft (1), reflect (2), reviser tool call (3), reviser at last step (4).
	out, conv := run(t, newTestConfig(t, model.StrategyReflexion, m, 4, search), "q")
	assert.Equal(t, "draft 1", out.Content)
	assert.False(t, model.IsFallback(out))
	assert.Equal(t, 2, revisions)
	assert.Equal(t, 4, conv.StepCount())
}
