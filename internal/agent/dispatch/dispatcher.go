package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentloop-core/server/internal/agent/model"
	logx "github.com/agentloop-core/server/pkg/logger"
	"github.com/agentloop-core/server/pkg/metrics"
)

const DefaultToolTimeout = 30 * time.Second

// Call is one tool call request as issued by a model.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Dispatcher executes tool calls against a Registry and normalises every
// result into a model.ToolOutcome. It never returns an error.
type Dispatcher struct {
	registry    *Registry
	timeout     time.Duration
	limiter     *rate.Limiter
	keys        *KeyPool
	maxParallel int
}

type DispatcherOption func(*Dispatcher)

// WithCallTimeout sets the per-call wall-clock timeout.
func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRateLimit throttles calls across all conversations using the dispatcher.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCredentials attaches a key pool. The current key is passed to tools
// through the context and rotated when a call is rate limited.
func WithCredentials(p *KeyPool) DispatcherOption {
	return func(d *Dispatcher) { d.keys = p }
}

// WithMaxParallel bounds how many calls of one batch run at once.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxParallel = n
		}
	}
}

func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		timeout:     DefaultToolTimeout,
		maxParallel: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke runs tool name with args. args is only read.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) model.ToolOutcome {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return d.finish(model.Failure(name, model.ReasonInvalidArguments, err.Error()), time.Now())
	}
	return d.InvokeJSON(ctx, name, string(b))
}

// InvokeJSON runs tool name with arguments already encoded as JSON, as they
// arrive in a model tool call.
func (d *Dispatcher) InvokeJSON(ctx context.Context, name, argsJSON string) model.ToolOutcome {
	start := time.Now()

	e, ok := d.registry.lookup(name)
	if !ok {
		return d.finish(UnknownTool(name), start)
	}

	argsJSON = strings.TrimSpace(argsJSON)
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if !json.Valid([]byte(argsJSON)) {
		return d.finish(model.Failure(name, model.ReasonInvalidArguments, "arguments are not valid JSON: "+argsJSON), start)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.finish(model.Failure(name, model.ReasonTimeout, fmt.Sprintf("rate limiter: %v", err)), start)
		}
	}

	attempts := 1
	if n := d.keys.Len(); n > 1 {
		attempts = n
	}

	var outcome model.ToolOutcome
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		key, hasKey := d.keys.Current()
		if hasKey {
			callCtx = WithCredential(ctx, key)
		}

		out, err := d.run(callCtx, e, argsJSON)
		outcome = Classify(name, out, err)
		if outcome.Reason != model.ReasonRateLimited || !hasKey || attempt == attempts-1 {
			break
		}
		next := d.keys.Rotate(key)
		logx.Warn().Str("tool", name).Int("attempt", attempt+1).
			Bool("rotated", next != key).Msg("tool rate limited, rotating credential")
	}
	return d.finish(outcome, start)
}

// InvokeBatch runs calls and returns outcomes in request order, whatever the
// completion order was.
func (d *Dispatcher) InvokeBatch(ctx context.Context, calls []Call) []model.ToolOutcome {
	outcomes := make([]model.ToolOutcome, len(calls))
	if d.maxParallel <= 1 || len(calls) <= 1 {
		for i, c := range calls {
			outcomes[i] = d.InvokeJSON(ctx, c.Name, c.Arguments)
			outcomes[i].CallID = c.ID
		}
		return outcomes
	}

	sem := make(chan struct{}, d.maxParallel)
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c Call) {
			defer wg.Done()
			defer func() { <-sem }()
			o := d.InvokeJSON(ctx, c.Name, c.Arguments)
			o.CallID = c.ID
			outcomes[i] = o
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

// run executes the tool under the call timeout and converts panics to errors.
func (d *Dispatcher) run(ctx context.Context, e *entry, argsJSON string) (string, error) {
	timeout := d.timeout
	if e.timeout > 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: %v", errToolPanic, r)}
			}
		}()
		out, err := e.tool.InvokableRun(ctx, argsJSON)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Dispatcher) finish(o model.ToolOutcome, start time.Time) model.ToolOutcome {
	o.Duration = time.Since(start)
	status := "success"
	if !o.OK() {
		status = "failure"
	}
	metrics.ToolDuration.WithLabelValues(o.Tool).Observe(o.Duration.Seconds())
	metrics.ToolOutcomes.WithLabelValues(o.Tool, status, string(o.Reason)).Inc()

	ev := logx.Debug()
	if !o.OK() {
		ev = logx.Warn().Str("reason", string(o.Reason)).Str("detail", o.Detail)
	}
	ev.Str("tool", o.Tool).Dur("took", o.Duration).Msg("tool call finished")
	return o
}

// UnknownTool is the outcome for a name that is not registered.
func UnknownTool(name string) model.ToolOutcome {
	return model.Failure(name, model.ReasonUnknownTool, fmt.Sprintf("unknown_tool: %q is not a registered tool", name))
}
