package errx

import "errors"

// Orchestration error taxonomy. Tool failures never leave the dispatcher as
// Go errors; these sentinels label outcomes, log lines and termination reasons.
var (
	ErrUnknownTool        = errors.New("unknown_tool")
	ErrToolExecution      = errors.New("tool execution failed")
	ErrPlanParseEmpty     = errors.New("plan contains no executable steps")
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrRoutingStalled     = errors.New("routing stalled")
	ErrModelTransport     = errors.New("model transport error")
)
