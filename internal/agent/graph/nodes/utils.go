package nodes

import (
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/model"
)

// FallbackAnswer is returned when the step budget runs out before an answer.
const FallbackAnswer = "Sorry, I could not find an answer to your question in the specified number of steps."

// FallbackMessage builds the terminal budget exhaustion message.
func FallbackMessage() *schema.Message {
	return model.Annotate(schema.AssistantMessage(FallbackAnswer, nil), model.ExtraFallback, true)
}

// Calls converts model tool call requests into dispatcher calls.
func Calls(msg *schema.Message) []dispatch.Call {
	calls := make([]dispatch.Call, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, dispatch.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return calls
}

// ToolResultMessage records one outcome as a tool message bound to its call.
func ToolResultMessage(o model.ToolOutcome) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    o.String(),
		ToolCallID: o.CallID,
		ToolName:   o.Tool,
	}
}

// ToolCallMessage builds an assistant message requesting calls, used when the
// engine itself issues tool calls on the model's behalf.
func ToolCallMessage(calls []dispatch.Call) *schema.Message {
	tcs := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		tcs = append(tcs, schema.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return schema.AssistantMessage("", tcs)
}
