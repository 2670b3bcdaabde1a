package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	ToolOutcomes.WithLabelValues("time_now", "success", "").Inc()
	RunTotal.WithLabelValues("react", "answered").Inc()

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "agentloop_tool_outcomes_total")
	assert.Contains(t, out, `strategy="react"`)
}
