package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/parsers"
	"github.com/agentloop-core/server/internal/agent/graph/prompts"
	"github.com/agentloop-core/server/internal/agent/graph/tools"
	"github.com/agentloop-core/server/internal/agent/model"
	errx "github.com/agentloop-core/server/internal/core/error"
	logx "github.com/agentloop-core/server/pkg/logger"
)

const (
	NodeSupervisorInput  = "supervisor_input"
	NodeSupervisorRouter = "supervisor"
	NodeSynthesis        = "synthesis"
	NodeSupervisorFinish = "supervisor_finish"
	NodeSupervisorBudget = "supervisor_budget"

	// RouteFinish is the router's choice to end the run.
	RouteFinish = "FINISH"
)

// substantialResultLen is the size from which a successful tool result is
// handed to synthesis next to the specialists' own findings.
const substantialResultLen = 80

// Specialist is one worker of the supervisor: a nested ReAct loop restricted
// to a tool subset.
type Specialist struct {
	Name  string
	Desc  string
	Tools []string
}

// DefaultSpecialists are the research and finance workers.
func DefaultSpecialists() []Specialist {
	return []Specialist{
		{
			Name:  "research_agent",
			Desc:  "Finds news, reports and background knowledge with web search and the internal knowledge base.",
			Tools: tools.ResearchTools,
		},
		{
			Name:  "finance_agent",
			Desc:  "Looks up stock symbols, historical prices and the current market date.",
			Tools: tools.FinanceTools,
		},
	}
}

// transitions is the routing table of the supervisor. The router's decision
// only selects among the targets listed for the router; specialists always
// return to the router.
type transitions map[string][]string

func (t transitions) allows(from, to string) bool {
	for _, n := range t[from] {
		if n == to {
			return true
		}
	}
	return false
}

type supervisorController struct {
	cfg         *Config
	specialists []Specialist
	workers     map[string]compose.Runnable[model.QueryInput, *schema.Message]
	table       transitions
	options     []string
	views       []prompts.SpecialistView
	router      nodes.Invoker
	synthesizer nodes.Invoker
}

// BuildSupervisor compiles the hub and spoke controller.
func BuildSupervisor(ctx context.Context, cfg *Config) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	specialists := cfg.Specialists
	if len(specialists) == 0 {
		specialists = DefaultSpecialists()
	}

	c := &supervisorController{
		cfg:         cfg,
		workers:     map[string]compose.Runnable[model.QueryInput, *schema.Message]{},
		table:       transitions{},
		router:      nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeSupervisorRouter},
		synthesizer: nodes.Invoker{Model: cfg.ChatModel, ModelName: cfg.ModelName, Node: NodeSynthesis},
	}

	reg := cfg.Dispatcher.Registry()
	reserved := map[string]bool{
		NodeSupervisorInput: true, NodeSupervisorRouter: true, NodeSynthesis: true,
		NodeSupervisorFinish: true, NodeSupervisorBudget: true, RouteFinish: true,
	}
	for _, sp := range specialists {
		if reserved[sp.Name] || c.workers[sp.Name] != nil || sp.Name == "" {
			return nil, fmt.Errorf("invalid specialist name %q", sp.Name)
		}
		available := make([]string, 0, len(sp.Tools))
		for _, name := range sp.Tools {
			if reg.Has(name) {
				available = append(available, name)
			}
		}
		sp.Tools = available

		desc := sp.Desc
		worker, err := buildReAct(ctx, cfg, reactOptions{
			agent: sp.Name,
			tools: available,
			system: func(ctx context.Context, _ *model.ConversationState, views []prompts.ToolView) (string, error) {
				return prompts.RenderSpecialist(ctx, sp.Name, desc, views)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("specialist %s: %w", sp.Name, err)
		}
		c.workers[sp.Name] = worker
		c.specialists = append(c.specialists, sp)
		c.views = append(c.views, prompts.SpecialistView{Name: sp.Name, Desc: sp.Desc})
		c.options = append(c.options, sp.Name)
		c.table[sp.Name] = []string{NodeSupervisorRouter}
	}
	c.options = append(c.options, NodeSynthesis, RouteFinish)
	c.table[NodeSupervisorRouter] = append(append([]string{}, c.options[:len(c.options)-1]...), NodeSupervisorFinish, NodeSupervisorBudget)

	g := newGraph()
	_ = g.AddLambdaNode(NodeSupervisorInput, compose.InvokableLambda(c.input))
	_ = g.AddLambdaNode(NodeSupervisorRouter, compose.InvokableLambda(c.route))
	_ = g.AddLambdaNode(NodeSynthesis, compose.InvokableLambda(c.synthesize))
	_ = g.AddLambdaNode(NodeSupervisorFinish, compose.InvokableLambda(c.finish))
	_ = g.AddLambdaNode(NodeSupervisorBudget, compose.InvokableLambda(c.budget))
	for _, sp := range c.specialists {
		_ = g.AddLambdaNode(sp.Name, compose.InvokableLambda(c.specialistNode(sp.Name)))
		for _, to := range c.table[sp.Name] {
			_ = g.AddEdge(sp.Name, to)
		}
	}

	_ = g.AddEdge(compose.START, NodeSupervisorInput)
	_ = g.AddEdge(NodeSupervisorInput, NodeSupervisorRouter)
	_ = g.AddEdge(NodeSynthesis, compose.END)
	_ = g.AddEdge(NodeSupervisorFinish, compose.END)
	_ = g.AddEdge(NodeSupervisorBudget, compose.END)

	ends := map[string]bool{}
	for _, to := range c.table[NodeSupervisorRouter] {
		ends[to] = true
	}
	branch := compose.NewGraphBranch(func(ctx context.Context, _ *schema.Message) (string, error) {
		st, err := appState(ctx)
		if err != nil {
			return "", err
		}
		if !c.table.allows(NodeSupervisorRouter, st.Next) {
			return "", fmt.Errorf("supervisor cannot route to %q", st.Next)
		}
		return st.Next, nil
	}, ends)
	if err := g.AddBranch(NodeSupervisorRouter, branch); err != nil {
		logx.Error().Err(err).Msg("Error adding supervisor branch")
		return nil, fmt.Errorf("error adding supervisor branch: %w", err)
	}
	return compile(ctx, g, "supervisor", cfg.Engine.StepBudget)
}

func (c *supervisorController) input(ctx context.Context, in model.QueryInput) (*schema.Message, error) {
	msg, err := newInputLambda(c.cfg.Engine.StepBudget)(ctx, in)
	if err != nil {
		return nil, err
	}
	err = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		s.AgentsUsed = map[string]bool{}
		return nil
	})
	return msg, err
}

// route asks the model for the next transition and resolves it against the
// routing table and the step budget.
func (c *supervisorController) route(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv
	if conv.IsLastStep() {
		st.Next = c.resolve(st, model.RouteDecision{})
		return nil, nil
	}

	system, err := prompts.RenderRouter(ctx, c.views, usedAgents(st), c.options)
	if err != nil {
		return nil, err
	}
	instruction := "Given the conversation above, who should act next? Select one of: " + strings.Join(c.options, ", ")
	out, err := c.router.Generate(ctx, conv, system, withInstruction(conv.Messages(), instruction))
	if err != nil {
		return nil, err
	}
	conv.CompleteStep()

	decision := parsers.ParseRoute(out.Content, c.options)
	st.Route = &decision
	st.Next = c.resolve(st, decision)
	logx.Debug().Str("conversation_id", conv.ID).Str("decision", decision.Next).Str("next", st.Next).
		Str("reason", decision.Reason).Strs("agents_used", usedAgents(st)).Msg("Supervisor routed")
	return out, nil
}

// resolve turns a routing decision into a transition. The model's choice is
// overridden when the budget is spent or when it finishes before
// synthesizing the work of two or more specialists. It is also overridden
// when it keeps selecting a specialist that adds nothing new.
func (c *supervisorController) resolve(st *model.AppState, d model.RouteDecision) string {
	conv := st.Conv
	if conv.IsLastStep() {
		if conv.Exhausted() || len(st.Contributions) == 0 {
			return NodeSupervisorBudget
		}
		return c.closing(st)
	}

	next := d.Next
	switch {
	case next == "":
		next = c.unparsedRoute(st)
	case next == RouteFinish && st.ContributorCount() >= 2 && !st.SynthesisDone:
		logx.Info().Str("conversation_id", conv.ID).Strs("agents_used", usedAgents(st)).
			Msg("Finish requested before synthesis, routing to synthesis")
		next = NodeSynthesis
	case next == NodeSynthesis && len(st.Contributions) == 0:
		next = RouteFinish
	}

	if _, ok := c.workers[next]; ok {
		if next == st.LastRoute && len(st.Contributions) == st.RoutedAt {
			st.SameRouteCount++
		} else {
			st.LastRoute, st.SameRouteCount = next, 1
		}
		st.RoutedAt = len(st.Contributions)
		if st.SameRouteCount > c.cfg.Engine.MaxSameRoute {
			logx.Warn().Err(errx.ErrRoutingStalled).Str("conversation_id", conv.ID).Str("agent", next).
				Int("consecutive", st.SameRouteCount).Msg("Supervisor keeps selecting the same specialist")
			st.Termination = model.TerminationRoutingStalled
			next = c.closing(st)
		}
	}

	if next == RouteFinish {
		return NodeSupervisorFinish
	}
	return next
}

// closing ends the run with what was gathered so far.
func (c *supervisorController) closing(st *model.AppState) string {
	if st.ContributorCount() >= 2 && !st.SynthesisDone {
		return NodeSynthesis
	}
	return NodeSupervisorFinish
}

// unparsedRoute replaces a decision that named no known transition: the
// first specialist that has not contributed yet, or closing.
func (c *supervisorController) unparsedRoute(st *model.AppState) string {
	logx.Warn().Str("conversation_id", st.Conv.ID).Msg("Supervisor decision names no known transition")
	for _, sp := range c.specialists {
		if !st.AgentsUsed[sp.Name] && sp.Name != st.LastRoute {
			return sp.Name
		}
	}
	if next := c.closing(st); next != NodeSupervisorFinish {
		return next
	}
	return RouteFinish
}

// specialistNode runs one nested worker and records its contribution.
func (c *supervisorController) specialistNode(name string) func(context.Context, *schema.Message) (*schema.Message, error) {
	worker := c.workers[name]
	return func(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
		st, err := appState(ctx)
		if err != nil {
			return nil, err
		}
		out, err := worker.Invoke(ctx, model.QueryInput{ConversationID: st.Conv.ID, State: st.Conv})
		if err != nil {
			return nil, err
		}
		if out != nil && !model.IsFallback(out) && strings.TrimSpace(out.Content) != "" {
			st.AgentsUsed[name] = true
			if !contributed(st, name, out.Content) {
				st.Contributions = append(st.Contributions, model.Contribution{Agent: name, Content: out.Content})
			}
		}
		return out, nil
	}
}

// contributed reports whether agent already gave this exact content.
func contributed(st *model.AppState, agent, content string) bool {
	content = strings.TrimSpace(content)
	for _, ct := range st.Contributions {
		if ct.Agent == agent && strings.TrimSpace(ct.Content) == content {
			return true
		}
	}
	return false
}

// synthesize combines the specialists' findings into the final answer. It
// reads only their text contributions and substantial tool results.
func (c *supervisorController) synthesize(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	conv := st.Conv

	system, err := prompts.RenderSynthesis(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.synthesizer.Generate(ctx, conv, system, []*schema.Message{schema.UserMessage(findings(st))})
	if err != nil {
		return nil, err
	}
	out.ToolCalls = nil
	conv.CompleteStep()
	st.SynthesisDone = true
	return c.terminal(st, model.Annotate(out, model.ExtraAgent, NodeSynthesis)), nil
}

func findings(st *model.AppState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request: %s\n\nFindings:\n", st.Query)
	for _, ct := range st.Contributions {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", ct.Agent, strings.TrimSpace(ct.Content))
	}

	var evidence []string
	for _, m := range st.Conv.Messages() {
		if m.Role != schema.Tool || model.AgentOf(m) == "" {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if len(content) < substantialResultLen || strings.HasPrefix(content, "Error:") {
			continue
		}
		evidence = append(evidence, fmt.Sprintf("[%s via %s]\n%s", model.AgentOf(m), m.ToolName, content))
	}
	if len(evidence) > 0 {
		sb.WriteString("Tool evidence:\n")
		sb.WriteString(strings.Join(evidence, "\n\n"))
	}
	return sb.String()
}

// finish ends the run with the router's answer, or the latest contribution
// when the router gave none.
func (c *supervisorController) finish(ctx context.Context, _ *schema.Message) (*schema.Message, error) {
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}

	answer := ""
	if st.Route != nil {
		answer = st.Route.Answer
	}
	if answer == "" && len(st.Contributions) > 0 {
		answer = st.Contributions[len(st.Contributions)-1].Content
	}
	if answer == "" {
		if st.Termination == "" {
			st.Termination = model.TerminationNoAnswer
		}
		logx.Warn().Str("conversation_id", st.Conv.ID).Msg("Supervisor finished without an answer")
		return c.terminal(st, nodes.FallbackMessage()), nil
	}
	msg := model.Annotate(schema.AssistantMessage(answer, nil), model.ExtraAgent, NodeSupervisorRouter)
	return c.terminal(st, msg), nil
}

func (c *supervisorController) budget(ctx context.Context, in *schema.Message) (*schema.Message, error) {
	msg, err := budgetFallback(ctx, in)
	if err != nil {
		return nil, err
	}
	st, err := appState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Termination != "" {
		model.Annotate(msg, model.ExtraTermination, string(st.Termination))
	}
	return msg, nil
}

// terminal appends the final message, marking a stalled run.
func (c *supervisorController) terminal(st *model.AppState, msg *schema.Message) *schema.Message {
	if st.Termination != "" {
		model.Annotate(msg, model.ExtraTermination, string(st.Termination))
	}
	st.Conv.Append(msg)
	return msg
}

func usedAgents(st *model.AppState) []string {
	out := make([]string, 0, len(st.AgentsUsed))
	for name := range st.AgentsUsed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
