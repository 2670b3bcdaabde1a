package nodes

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/model"
	errx "github.com/agentloop-core/server/internal/core/error"
	logx "github.com/agentloop-core/server/pkg/logger"
	"github.com/agentloop-core/server/pkg/metrics"
)

// Invoker performs one model call on behalf of a controller node.
type Invoker struct {
	Model     einomodel.BaseChatModel
	ModelName string
	Node      string
}

// Generate sends the system prompt followed by msgs, then normalises the
// reply: missing tool call ids are synthesized and usage cost is added to conv.
// Transport failures are wrapped with errx.WrapModel.
func (iv Invoker) Generate(ctx context.Context, conv *model.ConversationState, system string, msgs []*schema.Message) (*schema.Message, error) {
	input := make([]*schema.Message, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		input = append(input, schema.SystemMessage(system))
	}
	input = append(input, msgs...)

	out, err := iv.Model.Generate(ctx, input)
	if err != nil {
		logx.Error().Err(err).Str("node", iv.Node).Msg("model call failed")
		return nil, errx.WrapModel(err)
	}
	if out == nil {
		return nil, errx.WrapModel(fmt.Errorf("%s: empty model response", iv.Node))
	}
	if out.Role == "" {
		out.Role = schema.Assistant
	}

	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			out.ToolCalls[i].ID = conv.NextCallID()
		}
	}

	iv.accountUsage(conv, out)
	return out, nil
}

func (iv Invoker) accountUsage(conv *model.ConversationState, out *schema.Message) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(iv.ModelName))
	conv.AddCost(totalC)

	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(usage.CompletionTokens))

	logx.Debug().
		Str("conversation_id", conv.ID).
		Str("node", iv.Node).
		Str("model", iv.ModelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", conv.CostUSD()).
		Msg("LLM usage")
}
