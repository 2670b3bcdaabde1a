package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop-core/server/internal/agent/model"
)

func TestParsePlanSkipsMalformedLines(t *testing.T) {
	text := `Plan: Look up the recent closing prices of VCB.
#E1 = history_price[VCB,VCI,2024-01-15,2024-01-22,1D]
Plan: Summarize the trend.
#E2 = summarize the trend using #E1`

	plan, meta := ParsePlan(text)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, model.PlanStep{
		Description: "Look up the recent closing prices of VCB.",
		ID:          "#E1",
		Tool:        "history_price",
		Args:        "VCB,VCI,2024-01-15,2024-01-22,1D",
	}, plan.Steps[0])
	assert.Len(t, meta.SkippedLines, 1)
}

func TestParsePlanOrderAndDuplicates(t *testing.T) {
	text := "**Plan 1:** find news\n- #E1 = search_web[VCB news]\nPlan: compare\n#E2 = LLM[compare #E1]\n#E1 = time_now[]\nnoise"

	plan, meta := ParsePlan(text)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "find news", plan.Steps[0].Description)
	assert.Equal(t, "search_web", plan.Steps[0].Tool)
	assert.Equal(t, "LLM", plan.Steps[1].Tool)
	assert.Equal(t, "compare #E1", plan.Steps[1].Args)
	assert.Equal(t, []string{"#E1"}, meta.Duplicates)
}

func TestParsePlanEmpty(t *testing.T) {
	plan, _ := ParsePlan("I will just answer directly.")
	assert.True(t, plan.Empty())
}

func TestParseReflection(t *testing.T) {
	r := ParseReflection("```json\n{\"missing\":\"closing price\",\"superfluous\":\"history\",\"search_queries\":[\"VCB close\",\" \",\"a\",\"b\",\"c\"]}\n```")
	assert.Equal(t, "closing price", r.Missing)
	assert.Equal(t, "history", r.Superfluous)
	assert.Equal(t, []string{"VCB close", "a", "b"}, r.SearchQueries)
	assert.False(t, r.Satisfied())

	nested := ParseReflection(`{"reflection":{"missing":"Phản hồi này đã đạt yêu cầu.","superfluous":""},"search_queries":[]}`)
	assert.True(t, nested.Satisfied())

	free := ParseReflection("The answer is good enough.")
	assert.Equal(t, "The answer is good enough.", free.Missing)
	assert.True(t, free.Satisfied())
}

func TestParseRoute(t *testing.T) {
	options := []string{"research_agent", "finance_agent", "synthesis", "FINISH"}

	d := ParseRoute(`{"next":"Finance_Agent","reason":"needs prices"}`, options)
	assert.Equal(t, "finance_agent", d.Next)
	assert.Equal(t, "needs prices", d.Reason)

	d = ParseRoute(`Sure! {"next": "FINISH", "answer": " done "}`, options)
	assert.Equal(t, "FINISH", d.Next)
	assert.Equal(t, "done", d.Answer)

	d = ParseRoute("I think research_agent should go, then finance_agent", options)
	assert.Equal(t, "research_agent", d.Next)

	d = ParseRoute(`{"next":"marketing_agent"}`, options)
	assert.Empty(t, d.Next)
}

func TestExtractJSONObject(t *testing.T) {
	obj, ok := extractJSONObject(`text {"a":"}{","b":{"c":1}} tail`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"}{","b":{"c":1}}`, obj)

	_, ok = extractJSONObject("no json")
	assert.False(t, ok)
}
