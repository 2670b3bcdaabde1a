package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/parsers"
	"github.com/agentloop-core/server/internal/agent/graph/prompts"
	"github.com/agentloop-core/server/internal/agent/model"
	errx "github.com/agentloop-core/server/internal/core/error"
	logx "github.com/agentloop-core/server/pkg/logger"
)

const (
	NodeReWOOInput  = "rewoo_input"
	NodeReWOOPlan   = "rewoo_plan"
	NodeReWOOWork   = "rewoo_work"
	NodeReWOOSolve  = "rewoo_solve"
	NodeReWOOBudget = "rewoo_budget"
)

type rewooController struct {
	cfg     *Config
	views   []prompts.ToolView
	planner nodes.Invoker
	worker  nodes.Invoker
	solver  nodes.Invoker
}

// BuildReWOO compiles the plan, execute, solve controller.
func BuildReWOO(ctx context.Context, cfg *Config) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	reg := cfg.Dispatcher.Registry()
	infos, err := reg.Infos()
	if err != nil {
		return nil, err
	}
	c := &rewooController{
		cfg:     cfg,
		views:   prompts.ToolViews(infos, reg.Positional),
		planner: nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeReWOOPlan},
		worker:  nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeReWOOWork},
		solver:  nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeReWOOSolve},
	}

	g := newGraph()
	_ = g.AddLambdaNode(NodeReWOOInput, compose.InvokableLambda(newInputLambda(cfg.Engine.StepBudget)))
	_ = g.AddLambdaNode(NodeReWOOPlan, compose.InvokableLambda(c.plan))
	_ = g.AddLambdaNode(NodeReWOOWork, compose.InvokableLambda(c.work))
	_ = g.AddLambdaNode(NodeReWOOSolve, compose.InvokableLambda(c.solve))
	_ = g.AddLambdaNode(NodeReWOOBudget, compose.InvokableLambda(budgetFallback))

	_ = g.AddEdge(compose.START, NodeReWOOInput)
	_ = g.AddEdge(NodeReWOOInput, NodeReWOOPlan)
	_ = g.AddEdge(NodeReWOOSolve, compose.END)
	_ = g.AddEdge(NodeReWOOBudget, compose.END)

	ends := map[string]bool{NodeReWOOWork: true, NodeReWOOSolve: true, NodeReWOOBudget: true}
	for _, from := range []string{NodeReWOOPlan, NodeReWOOWork} {
		if err := g.AddBranch(from, compose.NewGraphBranch(c.next, ends)); err != nil {
			logx.Error().Err(err).Str("node", from).Msg("Error adding rewoo branch")
			return nil, fmt.Errorf("error adding rewoo branch: %w", err)
		}
	}
	return compile(ctx, g, "rewoo", cfg.Engine.StepBudget)
}

// plan makes the single planning call and parses its steps.
func (c *rewooController) plan(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	system, err := prompts.RenderPlanner(ctx, c.views)
	if err != nil {
		return nil, err
	}
	out, err := c.planner.Generate(ctx, conv, system, conv.Messages())
	if err != nil {
		return nil, err
	}
	out.ToolCalls = nil
	conv.Append(model.Annotate(out, model.ExtraAgent, "planner"))
	conv.CompleteStep()

	plan, meta := parsers.ParsePlan(out.Content)
	st.Plan = plan
	st.Results = model.NewResultStore()

	ev := logx.Debug()
	if plan.Empty() {
		ev = logx.Warn().Err(errx.ErrPlanParseEmpty)
	}
	ev.Str("conversation_id", conv.ID).
		Int("steps", len(plan.Steps)).
		Strs("skipped_lines", meta.SkippedLines).
		Strs("duplicates", meta.Duplicates).
		Bool("truncated", meta.Truncated).
		Msg("Plan parsed")
	return out, nil
}

// next picks the following phase. Steps run strictly in plan order; the
// solver needs one step of its own.
func (c *rewooController) next(ctx context.Context, _ *schema.Message) (string, error) {
	st, err := appState(ctx)
	if err != nil {
		return "", err
	}
	pending := len(st.Plan.Steps) - st.Results.Len()
	switch {
	case st.Conv.Exhausted():
		return NodeReWOOBudget, nil
	case pending <= 0:
		return NodeReWOOSolve, nil
	case st.Conv.IsLastStep():
		logx.Warn().Err(errx.ErrStepBudgetExceeded).Str("conversation_id", st.Conv.ID).
			Int("pending_steps", pending).Msg("Step budget reached before the plan finished")
		return NodeReWOOBudget, nil
	}
	return NodeReWOOWork, nil
}

// work executes the next plan step after substituting earlier evidence.
func (c *rewooController) work(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv
	step := st.Plan.Steps[st.Results.Len()]

	input, unresolved := st.Results.Substitute(step.Args)
	if len(unresolved) > 0 {
		logx.Warn().Str("conversation_id", conv.ID).Str("step", step.ID).Strs("unresolved", unresolved).
			Msg("Plan step references evidence that does not exist yet, passing it through")
	}

	var outcome model.ToolOutcome
	var argsJSON string
	if strings.EqualFold(step.Tool, model.LLMStepTool) {
		argsJSON = mustJSON(map[string]any{"input": input})
		out, err := c.worker.Generate(ctx, conv, "", []*schema.Message{schema.UserMessage(input)})
		if err != nil {
			return nil, err
		}
		outcome = model.Success(model.LLMStepTool, out.Content)
	} else {
		args := dispatch.ArgumentsFromTemplate(input, c.cfg.Dispatcher.Registry().Positional(step.Tool))
		argsJSON = mustJSON(args)
		outcome = c.cfg.Dispatcher.Invoke(ctx, step.Tool, args)
		conv.Record(outcome)
	}
	outcome.CallID = conv.NextCallID()

	if err := st.Results.Put(step.ID, outcome.String()); err != nil {
		return nil, err
	}

	call := nodes.ToolCallMessage([]dispatch.Call{{ID: outcome.CallID, Name: step.Tool, Arguments: argsJSON}})
	conv.Append(model.Annotate(call, model.ExtraPlanStep, step.ID))
	result := model.Annotate(nodes.ToolResultMessage(outcome), model.ExtraPlanStep, step.ID)
	conv.Append(result)
	conv.CompleteStep()
	return result, nil
}

// solve makes the final call over the plan interleaved with its evidence.
func (c *rewooController) solve(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	system, err := prompts.RenderSolver(ctx, st.Query, st.Plan.Evidence(st.Results))
	if err != nil {
		return nil, err
	}
	out, err := c.solver.Generate(ctx, conv, system, []*schema.Message{schema.UserMessage(st.Query)})
	if err != nil {
		return nil, err
	}
	out.ToolCalls = nil
	conv.Append(out)
	conv.CompleteStep()
	return out, nil
}

// budgetFallback ends a run that ran out of steps.
func budgetFallback(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	msg := nodes.FallbackMessage()
	st.Conv.Append(msg)
	st.Conv.CompleteStep()
	return msg, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
