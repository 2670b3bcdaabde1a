package graph

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/prompts"
	"github.com/agentloop-core/server/internal/agent/model"
	errx "github.com/agentloop-core/server/internal/core/error"
	logx "github.com/agentloop-core/server/pkg/logger"
)

const (
	NodeReActInput = "react_input"
	NodeReActThink = "react_think"
	NodeReActAct   = "react_act"
)

// systemPromptFunc renders the system prompt of one THINK. It may read the
// transcript, e.g. to pick up the latest critique.
type systemPromptFunc func(ctx context.Context, conv *model.ConversationState, tools []prompts.ToolView) (string, error)

type reactOptions struct {
	// agent annotates every produced message; empty for a top-level run.
	agent string
	// tools restricts the callable tools; nil means every registered tool.
	tools  []string
	system systemPromptFunc
}

type reactController struct {
	cfg     *Config
	opts    reactOptions
	allowed map[string]bool
	views   []prompts.ToolView
	invoker nodes.Invoker
}

func reactSystemPrompt(ctx context.Context, _ *model.ConversationState, tools []prompts.ToolView) (string, error) {
	return prompts.RenderReActSystem(ctx, tools)
}

// BuildReAct compiles the single-loop THINK / ACT controller over every
// registered tool.
func BuildReAct(ctx context.Context, cfg *Config) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	return buildReAct(ctx, cfg, reactOptions{system: reactSystemPrompt})
}

func newReActController(cfg *Config, opts reactOptions) (*reactController, error) {
	reg := cfg.Dispatcher.Registry()
	names := opts.tools
	if names == nil {
		names = reg.Names()
	}
	var infos []*schema.ToolInfo
	if len(names) > 0 {
		var err error
		if infos, err = reg.Infos(names...); err != nil {
			return nil, fmt.Errorf("react tools: %w", err)
		}
	}

	var chat einomodel.BaseChatModel = cfg.ChatModel
	if len(infos) > 0 {
		bound, err := cfg.ChatModel.WithTools(infos)
		if err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools to chat model")
			return nil, fmt.Errorf("failed to bind tools to chat model: %w", err)
		}
		chat = bound
	}

	allowed := make(map[string]bool, len(infos))
	for _, info := range infos {
		allowed[info.Name] = true
	}

	node := NodeReActThink
	if opts.agent != "" {
		node = opts.agent
	}
	return &reactController{
		cfg:     cfg,
		opts:    opts,
		allowed: allowed,
		views:   prompts.ToolViews(infos, nil),
		invoker: nodes.Invoker{Model: chat, ModelName: cfg.ModelName, Node: node},
	}, nil
}

func buildReAct(ctx context.Context, cfg *Config, opts reactOptions) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	c, err := newReActController(cfg, opts)
	if err != nil {
		return nil, err
	}

	g := newGraph()
	_ = g.AddLambdaNode(NodeReActInput, compose.InvokableLambda(newInputLambda(cfg.Engine.StepBudget)))
	_ = g.AddLambdaNode(NodeReActThink, compose.InvokableLambda(c.think))
	_ = g.AddLambdaNode(NodeReActAct, compose.InvokableLambda(c.act))

	_ = g.AddEdge(compose.START, NodeReActInput)
	_ = g.AddEdge(NodeReActInput, NodeReActThink)
	_ = g.AddEdge(NodeReActAct, NodeReActThink)

	branch := compose.NewGraphBranch(
		func(ctx context.Context, out *schema.Message) (string, error) {
			if out != nil && len(out.ToolCalls) > 0 {
				return NodeReActAct, nil
			}
			return compose.END, nil
		},
		map[string]bool{NodeReActAct: true, compose.END: true},
	)
	if err := g.AddBranch(NodeReActThink, branch); err != nil {
		logx.Error().Err(err).Msg("Error adding react branch")
		return nil, fmt.Errorf("error adding react branch: %w", err)
	}

	name := "react"
	if opts.agent != "" {
		name = "react_" + opts.agent
	}
	return compile(ctx, g, name, cfg.Engine.StepBudget)
}

// think runs one decision cycle. On the last step tool call requests are
// discarded and replaced by the fallback answer.
func (c *reactController) think(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	if conv.Exhausted() {
		logx.Warn().Err(errx.ErrStepBudgetExceeded).Str("conversation_id", conv.ID).Str("agent", c.opts.agent).
			Msg("No step left before THINK")
		return c.emit(conv, nodes.FallbackMessage()), nil
	}

	system, err := c.opts.system(ctx, conv, c.views)
	if err != nil {
		return nil, err
	}
	out, err := c.invoker.Generate(ctx, conv, system, conv.Messages())
	if err != nil {
		return nil, err
	}

	if len(out.ToolCalls) > 0 && conv.IsLastStep() {
		logx.Warn().Err(errx.ErrStepBudgetExceeded).
			Str("conversation_id", conv.ID).
			Str("agent", c.opts.agent).
			Int("step", conv.StepCount()+1).
			Int("discarded_calls", len(out.ToolCalls)).
			Msg("Last step reached, discarding tool calls")
		out = nodes.FallbackMessage()
	}

	c.emit(conv, out)
	conv.CompleteStep()
	return out, nil
}

// act executes the requested calls. Calls outside the tool subset of this
// controller fail as unknown tools.
func (c *reactController) act(ctx context.Context, in *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	calls := nodes.Calls(in)
	outcomes := make([]model.ToolOutcome, len(calls))
	pending := make([]dispatch.Call, 0, len(calls))
	index := make([]int, 0, len(calls))
	for i, call := range calls {
		if !c.allowed[call.Name] {
			outcomes[i] = dispatch.UnknownTool(call.Name)
			outcomes[i].CallID = call.ID
			continue
		}
		pending = append(pending, call)
		index = append(index, i)
	}
	for j, o := range c.cfg.Dispatcher.InvokeBatch(ctx, pending) {
		outcomes[index[j]] = o
	}

	var last *schema.Message
	for _, o := range outcomes {
		conv.Record(o)
		last = c.emit(conv, nodes.ToolResultMessage(o))
	}
	return last, nil
}

func (c *reactController) emit(conv *model.ConversationState, msg *schema.Message) *schema.Message {
	if c.opts.agent != "" {
		model.Annotate(msg, model.ExtraAgent, c.opts.agent)
	}
	conv.Append(msg)
	return msg
}
