package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/parsers"
	"github.com/agentloop-core/server/internal/agent/graph/prompts"
	"github.com/agentloop-core/server/internal/agent/graph/tools"
	"github.com/agentloop-core/server/internal/agent/model"
	logx "github.com/agentloop-core/server/pkg/logger"
)

const (
	NodeReflexionInput   = "reflexion_input"
	NodeReflexionDraft   = "reflexion_draft"
	NodeReflexionReflect = "reflexion_reflect"
	NodeReflexionRevise  = "reflexion_revise"
)

const (
	// maxFollowUpQueries bounds the searches one critique may request.
	maxFollowUpQueries = 3
	satisfactionPhrase = "good enough"
)

type reflexionController struct {
	cfg       *Config
	responder compose.Runnable[model.QueryInput, *schema.Message]
	reviser   compose.Runnable[model.QueryInput, *schema.Message]
	reflector nodes.Invoker
}

func responderPrompt(ctx context.Context, _ *model.ConversationState, views []prompts.ToolView) (string, error) {
	return prompts.RenderResponder(ctx, views)
}

// reviserPrompt carries the most recent critique of the transcript.
func reviserPrompt(ctx context.Context, conv *model.ConversationState, views []prompts.ToolView) (string, error) {
	critique := ""
	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if model.IsReflection(msgs[i]) {
			critique = msgs[i].Content
			break
		}
	}
	return prompts.RenderReviser(ctx, critique, views)
}

// BuildReflexion compiles the draft, reflect, revise controller. Drafting
// and revising are nested ReAct runs sharing the transcript and budget.
func BuildReflexion(ctx context.Context, cfg *Config) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	responder, err := buildReAct(ctx, cfg, reactOptions{agent: "responder", system: responderPrompt})
	if err != nil {
		return nil, err
	}
	reviser, err := buildReAct(ctx, cfg, reactOptions{agent: "reviser", system: reviserPrompt})
	if err != nil {
		return nil, err
	}
	c := &reflexionController{
		cfg:       cfg,
		responder: responder,
		reviser:   reviser,
		reflector: nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeReflexionReflect},
	}

	g := newGraph()
	_ = g.AddLambdaNode(NodeReflexionInput, compose.InvokableLambda(newInputLambda(cfg.Engine.StepBudget)))
	_ = g.AddLambdaNode(NodeReflexionDraft, compose.InvokableLambda(c.draft))
	_ = g.AddLambdaNode(NodeReflexionReflect, compose.InvokableLambda(c.reflect))
	_ = g.AddLambdaNode(NodeReflexionRevise, compose.InvokableLambda(c.revise))

	_ = g.AddEdge(compose.START, NodeReflexionInput)
	_ = g.AddEdge(NodeReflexionInput, NodeReflexionDraft)

	afterDraft := compose.NewGraphBranch(c.afterDraft, map[string]bool{NodeReflexionReflect: true, compose.END: true})
	for _, from := range []string{NodeReflexionDraft, NodeReflexionRevise} {
		if err := g.AddBranch(from, afterDraft); err != nil {
			logx.Error().Err(err).Str("node", from).Msg("Error adding reflexion branch")
			return nil, fmt.Errorf("error adding reflexion branch: %w", err)
		}
	}
	afterReflect := compose.NewGraphBranch(c.afterReflect, map[string]bool{NodeReflexionRevise: true, compose.END: true})
	if err := g.AddBranch(NodeReflexionReflect, afterReflect); err != nil {
		logx.Error().Err(err).Msg("Error adding reflexion branch")
		return nil, fmt.Errorf("error adding reflexion branch: %w", err)
	}
	return compile(ctx, g, "reflexion", cfg.Engine.StepBudget)
}

func (c *reflexionController) draft(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.responder.Invoke(ctx, model.QueryInput{ConversationID: st.Conv.ID, State: st.Conv})
	if err != nil {
		return nil, err
	}
	return c.keepDraft(st, out), nil
}

// keepDraft records a new draft and returns the answer the run would end
// with now. A budget fallback never replaces a real draft.
func (c *reflexionController) keepDraft(st *model.AppState, out *schema.Message) *schema.Message {
	st.Drafts++
	if st.LatestDraft == nil || !model.IsFallback(out) {
		st.LatestDraft = out
	}
	logx.Debug().Str("conversation_id", st.Conv.ID).Int("draft", st.Drafts).
		Bool("fallback", model.IsFallback(out)).Msg("Draft produced")
	return st.LatestDraft
}

// afterDraft ends the run once the reflection bound is reached or no step
// is left for a critique.
func (c *reflexionController) afterDraft(ctx context.Context, _ *schema.Message) (string, error) {
	st, err := appState(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case st.Reflections >= c.cfg.Engine.MaxReflections:
		return compose.END, nil
	case st.Conv.IsLastStep():
		return compose.END, nil
	}
	return NodeReflexionReflect, nil
}

// reflect critiques the latest draft. The critique is stored as a tagged
// reflection message; the node passes the draft on unchanged.
func (c *reflexionController) reflect(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	system, err := prompts.RenderReflector(ctx, maxFollowUpQueries, satisfactionPhrase)
	if err != nil {
		return nil, err
	}
	instruction := fmt.Sprintf("Critique the latest answer to this question: %s", st.Query)
	out, err := c.reflector.Generate(ctx, conv, system, withInstruction(conv.Messages(), instruction))
	if err != nil {
		return nil, err
	}

	refl := parsers.ParseReflection(out.Content)
	msg := schema.AssistantMessage(refl.Text(), nil)
	model.Annotate(msg, model.ExtraReflection, true)
	conv.Append(msg)
	conv.CompleteStep()

	st.Reflections++
	st.Reflection = &refl
	st.Satisfied = refl.Satisfied()
	logx.Debug().Str("conversation_id", conv.ID).Int("reflection", st.Reflections).
		Bool("satisfied", st.Satisfied).Strs("search_queries", refl.SearchQueries).Msg("Draft reflected")
	return st.LatestDraft, nil
}

func (c *reflexionController) afterReflect(ctx context.Context, _ *schema.Message) (string, error) {
	st, err := appState(ctx)
	if err != nil {
		return "", err
	}
	if st.Satisfied || st.Conv.IsLastStep() {
		return compose.END, nil
	}
	return NodeReflexionRevise, nil
}

// revise runs the critique's follow-up queries, then drafts again.
func (c *reflexionController) revise(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Reflection != nil && len(st.Reflection.SearchQueries) > 0 {
		c.followUp(ctx, st.Conv, st.Reflection.SearchQueries)
	}

	out, err := c.reviser.Invoke(ctx, model.QueryInput{ConversationID: st.Conv.ID, State: st.Conv})
	if err != nil {
		return nil, err
	}
	return c.keepDraft(st, out), nil
}

// followUp sends each query to the tool RouteQuery picks for it and stores
// the results as one tool call batch.
func (c *reflexionController) followUp(ctx context.Context, conv *model.ConversationState, queries []string) {
	reg := c.cfg.Dispatcher.Registry()
	calls := make([]dispatch.Call, 0, len(queries))
	for _, q := range queries {
		name := tools.RouteQuery(q, reg.Has)
		if name == "" {
			logx.Debug().Str("conversation_id", conv.ID).Str("query", q).Msg("No tool registered for follow-up query")
			continue
		}
		args := map[string]any{}
		for _, p := range reg.Positional(name) {
			if p == "query" {
				args["query"] = q
			}
		}
		calls = append(calls, dispatch.Call{ID: conv.NextCallID(), Name: name, Arguments: mustJSON(args)})
	}
	if len(calls) == 0 {
		return
	}

	conv.Append(model.Annotate(nodes.ToolCallMessage(calls), model.ExtraAgent, "reflector"))
	for _, o := range c.cfg.Dispatcher.InvokeBatch(ctx, calls) {
		conv.Record(o)
		conv.Append(nodes.ToolResultMessage(o))
	}
}
