package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	logx "github.com/agentloop-core/server/pkg/logger"
)

func init() {
	logx.Silence()
}

// funcTool adapts a function to tool.InvokableTool.
type funcTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (string, error)
}

func (f *funcTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name, Desc: "test tool " + f.name}, nil
}

func (f *funcTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	return f.fn(ctx, args)
}

func newTestRegistry(t *testing.T, tools map[string]func(context.Context, map[string]any) (string, error)) *Registry {
	t.Helper()
	reg := NewRegistry()
	for name, fn := range tools {
		require.NoError(t, reg.Register(context.Background(), name, &funcTool{name: name, fn: fn}))
	}
	return reg
}
