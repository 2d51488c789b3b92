package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/genloop/core"
	"github.com/hupe1980/genloop/model"
	"github.com/hupe1980/genloop/tool"
)

func call(id, name string) core.FunctionCall {
	return core.FunctionCall{ID: id, Name: name, Args: map[string]any{}}
}

func TestDispatcher_PartialFailurePreservesOrder(t *testing.T) {
	exec := tool.ExecutorFunc(func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name == "second" {
			return nil, errors.New("boom")
		}
		return map[string]any{"tool": name}, nil
	})
	d := NewDispatcher(exec)

	outcomes := d.Dispatch(context.Background(), []core.FunctionCall{call("1", "first"), call("2", "second"), call("3", "third")})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes got %d", len(outcomes))
	}
	for i, want := range []string{"first", "second", "third"} {
		if outcomes[i].Name != want {
			t.Fatalf("outcome %d: expected %s got %s", i, want, outcomes[i].Name)
		}
	}
	if !outcomes[0].Success || outcomes[1].Success || !outcomes[2].Success {
		t.Fatalf("unexpected success flags: %+v", outcomes)
	}
	if outcomes[1].Error != "boom" {
		t.Fatalf("expected error string to be kept, got %q", outcomes[1].Error)
	}
}

func TestDispatcher_RunsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	exec := tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		started.Done()
		select {
		case <-release:
			return map[string]any{}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("calls were serialized")
		}
	})

	outcomes := NewDispatcher(exec).Dispatch(context.Background(), []core.FunctionCall{call("1", "a"), call("2", "b"), call("3", "c")})
	for _, o := range outcomes {
		if !o.Success {
			t.Fatalf("expected all calls to overlap: %s", o.Error)
		}
	}
}

func TestDispatcher_MaxParallel(t *testing.T) {
	var inFlight, peak int32
	exec := tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return map[string]any{}, nil
	})
	d := NewDispatcher(exec, func(o *DispatcherOptions) { o.MaxParallel = 1 })

	d.Dispatch(context.Background(), []core.FunctionCall{call("1", "a"), call("2", "b"), call("3", "c")})
	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Fatalf("expected at most 1 call in flight, saw %d", got)
	}
}

func TestDispatcher_Unconfigured(t *testing.T) {
	d := NewDispatcher(nil)
	if d.Configured() {
		t.Fatalf("nil executor must not count as configured")
	}
	outcomes := d.Dispatch(context.Background(), []core.FunctionCall{call("1", "a"), call("2", "b")})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Success || !strings.Contains(o.Error, "not configured") {
			t.Fatalf("expected configuration error outcome, got %+v", o)
		}
	}
}

func TestDispatcher_PanicRecovery(t *testing.T) {
	exec := tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		panic("kaboom")
	})
	outcomes := NewDispatcher(exec).Dispatch(context.Background(), []core.FunctionCall{call("1", "fragile")})
	if outcomes[0].Success || !strings.Contains(outcomes[0].Error, "panicked") {
		t.Fatalf("expected panic converted to error, got %+v", outcomes[0])
	}
}

func TestDispatcher_ValidatesArguments(t *testing.T) {
	var calls int32
	exec := tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{}, nil
	})
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
	d := NewDispatcher(exec, func(o *DispatcherOptions) {
		o.Declarations = []model.ToolDefinition{model.NewFunctionDefinition("search", "", schema)}
	})

	outcomes := d.Dispatch(context.Background(), []core.FunctionCall{
		call("1", "search"),
		{ID: "2", Name: "search", Args: map[string]any{"query": "cats"}},
		call("3", "undeclared"),
	})
	if outcomes[0].Success {
		t.Fatalf("expected missing argument to fail validation")
	}
	if !outcomes[1].Success || !outcomes[2].Success {
		t.Fatalf("expected valid and undeclared calls to pass: %+v", outcomes)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("invalid call must not reach the executor, got %d executions", calls)
	}
}

func TestDispatcher_RejectsNullForTypedArgument(t *testing.T) {
	exec := tool.ExecutorFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
	d := NewDispatcher(exec, func(o *DispatcherOptions) {
		o.Declarations = []model.ToolDefinition{model.NewFunctionDefinition("search", "", schema)}
	})

	outcomes := d.Dispatch(context.Background(), []core.FunctionCall{
		{ID: "1", Name: "search", Args: map[string]any{"query": nil}},
	})
	if outcomes[0].Success {
		t.Fatalf("expected null query to fail validation")
	}
}

func TestDispatcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := tool.ExecutorFunc(func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		return nil, ctx.Err()
	})
	outcomes := NewDispatcher(exec).Dispatch(ctx, []core.FunctionCall{call("1", "a"), call("2", "b")})
	for _, o := range outcomes {
		if o.Success || o.Name == "" {
			t.Fatalf("expected one failed outcome per call, got %+v", outcomes)
		}
	}
}
