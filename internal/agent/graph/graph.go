package graph

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/graph/conversations"
	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/observers"
	"github.com/agentloop-core/server/internal/agent/model"
	logx "github.com/agentloop-core/server/pkg/logger"
	"github.com/agentloop-core/server/pkg/metrics"
)

// Runner executes one controller for a query and returns its run record.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.RunResult, error)
}

// Config holds everything needed to build a controller graph.
type Config struct {
	Strategy   model.Strategy
	ChatModel  einomodel.ToolCallingChatModel
	ModelName  string
	Dispatcher *dispatch.Dispatcher
	Engine     model.EngineConfig

	// Specialists are the supervisor workers. DefaultSpecialists is used
	// when empty.
	Specialists []Specialist

	// Optional persistence.
	Messages *conversations.MessagesManager
	Runs     model.RunRepository
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("graph config is nil")
	}
	if c.ChatModel == nil {
		return fmt.Errorf("chat model is nil")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("tool dispatcher is nil")
	}
	if c.Engine.StepBudget < 1 {
		c.Engine.StepBudget = model.DefaultStepBudget
	}
	if c.Engine.MaxReflections < 0 {
		c.Engine.MaxReflections = 0
	}
	if c.Engine.MaxSameRoute < 1 {
		c.Engine.MaxSameRoute = 2
	}
	return nil
}

type graphRunner struct {
	strategy model.Strategy
	budget   int
	runnable compose.Runnable[model.QueryInput, *schema.Message]
	messages *conversations.MessagesManager
	runs     model.RunRepository
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.RunResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if in.ConversationID == "" {
		in.ConversationID = uuid.NewString()
	}

	conv := model.NewConversationState(in.ConversationID, r.budget)
	if r.messages != nil {
		if err := r.messages.LoadInto(ctx, conv); err != nil {
			logx.Warn().Err(err).Str("conversation_id", conv.ID).Msg("Failed to load conversation history, continuing without it")
		}
	}

	out, err := r.runnable.Invoke(ctx, model.QueryInput{
		ConversationID: in.ConversationID,
		Query:          query,
		State:          conv,
	}, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		metrics.RunTotal.WithLabelValues(string(r.strategy), "error").Inc()
		return nil, err
	}

	answer := ""
	if out != nil {
		answer = strings.TrimSpace(out.Content)
	}
	if answer == "" {
		answer = nodes.FallbackAnswer
	}
	termination := model.TerminationOf(out)

	result := model.NewRunResult(uuid.NewString(), r.strategy, query, answer, conv, termination)
	metrics.RunTotal.WithLabelValues(string(r.strategy), string(termination)).Inc()
	metrics.RunSteps.WithLabelValues(string(r.strategy)).Observe(float64(result.Steps))

	logx.Info().
		Str("conversation_id", conv.ID).
		Str("run_id", result.RunID).
		Str("strategy", string(r.strategy)).
		Str("termination", string(termination)).
		Int("steps", result.Steps).
		Strs("tools", result.UsedTools).
		Int("failed_tools", result.FailedToolsCount).
		Msg("Run finished")

	r.persist(ctx, result)
	return result, nil
}

// persist stores the turn and the run record. Storage errors never fail a
// run that already produced an answer.
func (r *graphRunner) persist(ctx context.Context, result *model.RunResult) {
	if r.messages != nil {
		if err := r.messages.SaveTurn(ctx, result.ConversationID, result.Query, result.Answer); err != nil {
			logx.Warn().Err(err).Str("conversation_id", result.ConversationID).Msg("Failed to save conversation turn")
		}
	}
	if r.runs != nil {
		if err := r.runs.SaveRun(ctx, result); err != nil {
			logx.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to save run record")
		}
	}
}

// BuildRunner compiles the graph of cfg.Strategy and wraps it in a Runner.
func BuildRunner(ctx context.Context, cfg Config) (Runner, error) {
	runnable, err := BuildGraph(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	logx.Debug().Str("strategy", string(cfg.Strategy)).Msg("Controller graph built successfully")
	return &graphRunner{
		strategy: cfg.Strategy,
		budget:   cfg.Engine.StepBudget,
		runnable: runnable,
		messages: cfg.Messages,
		runs:     cfg.Runs,
	}, nil
}

// BuildGraph compiles the controller graph named by cfg.Strategy.
func BuildGraph(ctx context.Context, cfg *Config) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case model.StrategyReAct, "":
		cfg.Strategy = model.StrategyReAct
		return BuildReAct(ctx, cfg)
	case model.StrategyReWOO:
		return BuildReWOO(ctx, cfg)
	case model.StrategyReflexion:
		return BuildReflexion(ctx, cfg)
	case model.StrategySupervisor:
		return BuildSupervisor(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
}

// ParseStrategy maps a CLI or config value onto a Strategy.
func ParseStrategy(s string) (model.Strategy, error) {
	switch st := model.Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case model.StrategyReAct, model.StrategyReWOO, model.StrategyReflexion, model.StrategySupervisor:
		return st, nil
	case "multi-agent", "multi_agent":
		return model.StrategySupervisor, nil
	}
	return "", fmt.Errorf("unknown strategy %q, want react | rewoo | reflexion | supervisor", s)
}

func newGraph() *compose.Graph[model.QueryInput, *schema.Message] {
	return compose.NewGraph[model.QueryInput, *schema.Message](
		compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
			return &model.AppState{}
		}),
	)
}

// compile finalizes g. Run steps are bounded above the step budget so that
// the budget, not the graph engine, ends runaway loops.
func compile(ctx context.Context, g *compose.Graph[model.QueryInput, *schema.Message], name string, budget int) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	runnable, err := g.Compile(ctx,
		compose.WithGraphName(name),
		compose.WithMaxRunSteps(4*budget+10),
	)
	if err != nil {
		logx.Error().Err(err).Str("graph", name).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling %s graph: %w", name, err)
	}
	logx.Debug().Str("graph", name).Msg("Graph compiled successfully")
	return runnable, nil
}

// appState returns the local state of the running graph.
func appState(ctx context.Context) (*model.AppState, error) {
	var st *model.AppState
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		st = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if st.Conv == nil {
		return nil, fmt.Errorf("conversation state is not initialised")
	}
	return st, nil
}

// newInputLambda binds the conversation state to the graph. A nested run
// reuses the caller's state and may come without a query.
func newInputLambda(budget int) func(context.Context, model.QueryInput) (*schema.Message, error) {
	return func(ctx context.Context, in model.QueryInput) (*schema.Message, error) {
		conv := in.State
		if conv == nil {
			conv = model.NewConversationState(in.ConversationID, budget)
		}

		var msg *schema.Message
		query := strings.TrimSpace(in.Query)
		if query != "" {
			msg = schema.UserMessage(query)
			conv.Append(msg)
		} else {
			query = lastUserQuery(conv)
		}

		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.Conv = conv
			s.Query = query
			return nil
		})
		return msg, err
	}
}

func lastUserQuery(conv *model.ConversationState) string {
	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User && !model.IsReflection(msgs[i]) {
			return msgs[i].Content
		}
	}
	return ""
}

// withInstruction appends a user turn that is sent to the model but not
// stored in the transcript.
func withInstruction(msgs []*schema.Message, instruction string) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, schema.UserMessage(instruction))
}
