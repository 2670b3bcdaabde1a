package model

import (
	"time"
)

// FailureReason labels why a tool call failed.
type FailureReason string

const (
	ReasonUnknownTool      FailureReason = "unknown_tool"
	ReasonExecution        FailureReason = "execution_error"
	ReasonTimeout          FailureReason = "timeout"
	ReasonPanic            FailureReason = "panic"
	ReasonRateLimited      FailureReason = "rate_limited"
	ReasonReported         FailureReason = "reported_error"
	ReasonInvalidArguments FailureReason = "invalid_arguments"
)

// ToolOutcome is either a success carrying Value or a failure carrying
// Reason and Detail. Use Success/Failure to build one.
type ToolOutcome struct {
	CallID   string
	Tool     string
	Value    string
	Reason   FailureReason
	Detail   string
	Duration time.Duration
}

func Success(tool, value string) ToolOutcome {
	return ToolOutcome{Tool: tool, Value: value}
}

func Failure(tool string, reason FailureReason, detail string) ToolOutcome {
	if detail == "" {
		detail = string(reason)
	}
	return ToolOutcome{Tool: tool, Reason: reason, Detail: detail}
}

// OK reports whether the outcome is a success.
func (o ToolOutcome) OK() bool { return o.Reason == "" }

// String renders the outcome the way it is shown to the model and stored in
// a plan's result store.
func (o ToolOutcome) String() string {
	if o.OK() {
		return o.Value
	}
	return "Error: " + o.Detail
}

// ToolFailure is one entry of the failed tools list.
type ToolFailure struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}

// ToolLedger tracks which tools were used and which failed during one query.
type ToolLedger struct {
	succeeded []string
	failures  []ToolFailure
}

func (l *ToolLedger) Record(o ToolOutcome) {
	if !o.OK() {
		l.failures = append(l.failures, ToolFailure{Tool: o.Tool, Error: o.Detail})
		return
	}
	for _, name := range l.succeeded {
		if name == o.Tool {
			return
		}
	}
	l.succeeded = append(l.succeeded, o.Tool)
}

// UsedTools returns distinct successfully used tools in first-use order. A
// tool that failed at any point in the query is excluded.
func (l *ToolLedger) UsedTools() []string {
	failed := make(map[string]struct{}, len(l.failures))
	for _, f := range l.failures {
		failed[f.Tool] = struct{}{}
	}
	out := make([]string, 0, len(l.succeeded))
	for _, name := range l.succeeded {
		if _, ok := failed[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Failures returns every failure in the order it happened.
func (l *ToolLedger) Failures() []ToolFailure {
	out := make([]ToolFailure, len(l.failures))
	copy(out, l.failures)
	return out
}
