package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/model"
	logx "github.com/agentloop-core/server/pkg/logger"
)

func init() { logx.Silence() }

// respondFunc produces the reply to one model call. system is the content
// of the leading system message, empty when there is none.
type respondFunc func(system string, in []*schema.Message) *schema.Message

// scriptedModel is a chat model whose replies come from a function. Every
// tool-bound copy shares the same script and call log.
type scriptedModel struct {
	mu      sync.Mutex
	respond respondFunc
	inputs  [][]*schema.Message
}

func newScriptedModel(respond respondFunc) *scriptedModel {
	return &scriptedModel{respond: respond}
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)

	system := ""
	if len(in) > 0 && in[0].Role == schema.System {
		system = in[0].Content
	}
	out := m.respond(system, in)
	if out == nil {
		return nil, errors.New("script has no reply")
	}
	cp := *out
	cp.Extra = nil
	cp.ToolCalls = append([]schema.ToolCall(nil), out.ToolCalls...)
	return &cp, nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (m *scriptedModel) WithTools(_ []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

// callsWith counts calls whose system prompt contains marker.
func (m *scriptedModel) callsWith(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range m.inputs {
		if len(in) > 0 && in[0].Role == schema.System && strings.Contains(in[0].Content, marker) {
			n++
		}
	}
	return n
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// lastInputWith returns the messages of the latest call whose system prompt
// contains marker.
func (m *scriptedModel) lastInputWith(marker string) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.inputs) - 1; i >= 0; i-- {
		in := m.inputs[i]
		if len(in) > 0 && in[0].Role == schema.System && strings.Contains(in[0].Content, marker) {
			return in
		}
	}
	return nil
}

func answer(text string) *schema.Message {
	return schema.AssistantMessage(text, nil)
}

func toolCall(name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func always(msg *schema.Message) respondFunc {
	return func(string, []*schema.Message) *schema.Message { return msg }
}

// sequence replies with msgs in order and repeats the last one.
func sequence(msgs ...*schema.Message) respondFunc {
	var mu sync.Mutex
	i := 0
	return func(string, []*schema.Message) *schema.Message {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(msgs) {
			return msgs[len(msgs)-1]
		}
		i++
		return msgs[i-1]
	}
}

// fakeTool records its arguments and answers through run.
type fakeTool struct {
	name   string
	params []string
	run    func(call int, args map[string]any) (string, error)

	mu   sync.Mutex
	seen []map[string]any
}

func newFakeTool(name string, params []string, run func(call int, args map[string]any) (string, error)) *fakeTool {
	return &fakeTool{name: name, params: params, run: run}
}

func returns(out string) func(int, map[string]any) (string, error) {
	return func(int, map[string]any) (string, error) { return out, nil }
}

func (t *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{}
	for _, p := range t.params {
		params[p] = &schema.ParameterInfo{Type: schema.String, Desc: p}
	}
	return &schema.ToolInfo{Name: t.name, Desc: "fake " + t.name, ParamsOneOf: schema.NewParamsOneOfByParams(params)}, nil
}

func (t *fakeTool) InvokableRun(_ context.Context, argsJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.seen = append(t.seen, args)
	call := len(t.seen)
	t.mu.Unlock()
	return t.run(call, args)
}

func (t *fakeTool) calls() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.seen...)
}

func newTestConfig(t *testing.T, strategy model.Strategy, m *scriptedModel, budget int, tools ...*fakeTool) *Config {
	t.Helper()
	reg := dispatch.NewRegistry()
	for _, ft := range tools {
		require.NoError(t, reg.Register(context.Background(), ft.name, ft, dispatch.WithPositional(ft.params...)))
	}
	return &Config{
		Strategy:   strategy,
		ChatModel:  m,
		ModelName:  "test-model",
		Dispatcher: dispatch.NewDispatcher(reg),
		Engine: model.EngineConfig{
			StepBudget:     budget,
			MaxReflections: 2,
			MaxSameRoute:   2,
		},
	}
}

// run compiles cfg and executes it on a fresh state the test can inspect.
func run(t *testing.T, cfg *Config, query string) (*schema.Message, *model.ConversationState) {
	t.Helper()
	ctx := context.Background()
	runnable, err := BuildGraph(ctx, cfg)
	require.NoError(t, err)

	conv := model.NewConversationState("c1", cfg.Engine.StepBudget)
	out, err := runnable.Invoke(ctx, model.QueryInput{ConversationID: "c1", Query: query, State: conv})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out, conv
}
