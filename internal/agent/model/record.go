package model

import "github.com/cloudwego/eino/schema"

// Termination describes why a run stopped.
type Termination string

const (
	TerminationAnswered        Termination = "answered"
	TerminationBudgetExhausted Termination = "budget_exhausted"
	TerminationRoutingStalled  Termination = "routing_stalled"
	// TerminationNoAnswer marks a run the router closed with nothing to say.
	TerminationNoAnswer Termination = "no_answer"
)

// RunResult is the per-query record handed to the evaluation harness.
type RunResult struct {
	RunID            string        `json:"run_id"`
	ConversationID   string        `json:"conversation_id"`
	Strategy         Strategy      `json:"strategy"`
	Query            string        `json:"input"`
	Answer           string        `json:"output"`
	UsedTools        []string      `json:"tools"`
	FailedTools      []ToolFailure `json:"failed_tools"`
	FailedToolsCount int           `json:"failed_tools_count"`
	Steps            int           `json:"steps"`
	Termination      Termination   `json:"termination"`
	CostUSD          float64       `json:"cost_usd"`
}

// NewRunResult snapshots the ledger of state into a record.
func NewRunResult(runID string, strategy Strategy, query, answer string, state *ConversationState, reason Termination) *RunResult {
	failures := state.Ledger().Failures()
	return &RunResult{
		RunID:            runID,
		ConversationID:   state.ID,
		Strategy:         strategy,
		Query:            query,
		Answer:           answer,
		UsedTools:        state.Ledger().UsedTools(),
		FailedTools:      failures,
		FailedToolsCount: len(failures),
		Steps:            state.StepCount(),
		Termination:      reason,
		CostUSD:          state.CostUSD(),
	}
}

// TerminationOf derives why a run stopped from its final message.
func TerminationOf(m *schema.Message) Termination {
	if m != nil && m.Extra != nil {
		if v, ok := m.Extra[ExtraTermination].(string); ok && v != "" {
			return Termination(v)
		}
	}
	if IsFallback(m) {
		return TerminationBudgetExhausted
	}
	return TerminationAnswered
}
