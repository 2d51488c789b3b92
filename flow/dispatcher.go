package flow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/internal/util"
	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	MaxParallel int // 0 or <1 => no explicit limit (len(calls))

	// Declarations, when set, are used to validate call arguments before
	// any I/O. Calls to undeclared names, or names whose schema cannot be
	// resolved, are passed through unchecked.
	Declarations []model.ToolDefinition

	Logger logging.Logger
}

// Dispatcher executes one round of tool calls concurrently and returns one
// outcome per call in request order. It never returns an error: every
// failure, including a panic in the executor, is folded into its outcome.
type Dispatcher struct {
	executor tool.Executor
	schemas  map[string]*jsonschema.Resolved
	opts     DispatcherOptions
}

// NewDispatcher creates a dispatcher over executor. A nil executor means no
// tool server is configured; every call then fails without network I/O.
func NewDispatcher(executor tool.Executor, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	schemas := make(map[string]*jsonschema.Resolved, len(opts.Declarations))
	for _, d := range opts.Declarations {
		resolved, err := util.CompileSchema(d.Function.Parameters)
		if err != nil {
			opts.Logger.Warn("flow.dispatch.schema_unusable", "tool", d.Function.Name, "error", err.Error())
			continue
		}
		if resolved != nil {
			schemas[d.Function.Name] = resolved
		}
	}

	return &Dispatcher{executor: executor, schemas: schemas, opts: opts}
}

// Configured reports whether a tool executor is available.
func (d *Dispatcher) Configured() bool { return d.executor != nil }

// Dispatch runs calls and blocks until every one of them has resolved.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []core.FunctionCall) []core.Outcome {
	n := len(calls)
	if n == 0 {
		return nil
	}

	outcomes := make([]core.Outcome, n)

	if d.executor == nil {
		for i, fc := range calls {
			outcomes[i] = failed(fc, tool.ErrUnavailable)
		}
		d.opts.Logger.Warn("flow.dispatch.unavailable", "count", n)
		return outcomes
	}

	maxPar := d.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[idx] = failed(fc, ctx.Err())
				return
			}
			defer func() { <-sem }()

			outcomes[idx] = d.execute(ctx, fc)
		}(i, calls[i])
	}

	wg.Wait()

	d.opts.Logger.Debug(
		"flow.dispatch.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return outcomes
}

func (d *Dispatcher) execute(ctx context.Context, fc core.FunctionCall) (out core.Outcome) {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}

	if schema, ok := d.schemas[fc.Name]; ok {
		if err := util.ValidateArgs(args, schema); err != nil {
			d.opts.Logger.Warn("flow.dispatch.invalid_args", "tool", fc.Name, "error", err.Error())
			return failed(fc, &tool.ToolError{Tool: fc.Name, Message: err.Error(), Code: tool.CodeValidation, Err: err})
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.opts.Logger.Error("flow.dispatch.panic", "tool", fc.Name, "recover", r, "stack", string(debug.Stack()))
			out = failed(fc, fmt.Errorf("tool %s panicked: %v", fc.Name, r))
		}
	}()

	result, err := d.executor.Call(ctx, fc.Name, args)

	d.opts.Logger.Info(
		"flow.dispatch.executed",
		"tool", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		return failed(fc, err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return core.Outcome{ID: fc.ID, Name: fc.Name, Success: true, Result: result}
}

func failed(fc core.FunctionCall, err error) core.Outcome {
	return core.Outcome{ID: fc.ID, Name: fc.Name, Error: err.Error()}
}
