package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStoreOrderAndNoOverwrite(t *testing.T) {
	r := NewResultStore()
	require.NoError(t, r.Put("#E1", "R1"))
	require.NoError(t, r.Put("#E2", "R2"))
	assert.Error(t, r.Put("#E1", "other"))

	assert.Equal(t, []string{"#E1", "#E2"}, r.Keys())
	v, ok := r.Get("#E1")
	assert.True(t, ok)
	assert.Equal(t, "R1", v)
}

func TestSubstitute(t *testing.T) {
	r := NewResultStore()
	require.NoError(t, r.Put("#E1", "R1"))
	require.NoError(t, r.Put("#E10", "R10"))

	out, missing := r.Substitute("#E1, y, #E10, #E3")
	assert.Equal(t, "R1, y, R10, #E3", out)
	assert.Equal(t, []string{"#E3"}, missing)

	out, missing = r.Substitute("no refs")
	assert.Equal(t, "no refs", out)
	assert.Empty(t, missing)
}

func TestEvidence(t *testing.T) {
	p := &Plan{Steps: []PlanStep{
		{Description: "find price", ID: "#E1", Tool: "history_price", Args: "VCB"},
		{Description: "summarize", ID: "#E2", Tool: "LLM", Args: "#E1"},
	}}
	r := NewResultStore()
	require.NoError(t, r.Put("#E1", "10.5"))

	ev := p.Evidence(r)
	assert.Contains(t, ev, "Plan: find price\n#E1 = history_price[VCB]\nEvidence: 10.5\n")
	assert.Contains(t, ev, "Evidence: (not executed)")
	assert.Empty(t, (&Plan{}).Evidence(r))
}
