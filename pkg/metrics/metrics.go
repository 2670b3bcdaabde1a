package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry holds every engine collector.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ToolDuration, ToolOutcomes,
		RunTotal, RunSteps,
		LLMTokensTotal,
	)
}

// ToolDuration observes wall-clock seconds per dispatched tool call.
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agentloop_tool_duration_seconds",
		Help:    "Tool call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolOutcomes counts tool calls by status (success | failure) and failure reason.
var ToolOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentloop_tool_outcomes_total",
		Help: "Tool call outcomes.",
	},
	[]string{"tool", "status", "reason"},
)

// RunTotal counts finished controller runs.
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentloop_run_total",
		Help: "Controller runs by strategy and termination reason.",
	},
	[]string{"strategy", "termination"},
)

// RunSteps observes decision cycles consumed per run.
var RunSteps = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agentloop_run_steps",
		Help:    "Decision cycles consumed per run.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	},
	[]string{"strategy"},
)

// LLMTokensTotal counts model tokens by direction (input | output).
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentloop_llm_tokens_total",
		Help: "Language model tokens.",
	},
	[]string{"direction"},
)

// WritePrometheus writes the registry in the Prometheus text format.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
