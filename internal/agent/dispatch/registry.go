package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	errx "github.com/agentloop-core/server/internal/core/error"
)

var ErrToolRegistered = errors.New("tool already registered")

type entry struct {
	tool       tool.InvokableTool
	info       *schema.ToolInfo
	positional []string
	timeout    time.Duration
}

// Option customises one registration.
type Option func(*entry)

// WithPositional declares the parameter names a plain-text argument template
// like `VCB,VCI,2024-01-01` maps onto, in order.
func WithPositional(names ...string) Option {
	return func(e *entry) { e.positional = names }
}

// WithTimeout overrides the dispatcher timeout for this tool.
func WithTimeout(d time.Duration) Option {
	return func(e *entry) { e.timeout = d }
}

// Registry is a closed map from tool name to capability.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds t under name. The tool info reported to models carries name
// even when t describes itself differently.
func (r *Registry) Register(ctx context.Context, name string, t tool.InvokableTool, opts ...Option) error {
	if name == "" || t == nil {
		return fmt.Errorf("register tool: empty name or nil tool")
	}
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}
	if info == nil {
		info = &schema.ToolInfo{}
	}
	cp := *info
	cp.Name = name

	e := &entry{tool: t, info: &cp}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolRegistered, name)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Positional returns the positional parameter names declared for name.
func (r *Registry) Positional(name string) []string {
	e, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return e.positional
}

// Infos returns the tool infos of names, or of every tool when names is empty.
func (r *Registry) Infos(names ...string) ([]*schema.ToolInfo, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		e, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errx.ErrUnknownTool, name)
		}
		out = append(out, e.info)
	}
	return out, nil
}
