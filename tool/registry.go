package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/genloop/logging"
	"github.com/hupe1980/genloop/model"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry is an in-process Executor dispatching calls to registered tools by
// name. Results that are not already a mapping are wrapped as {"result": v}.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{tools: map[string]Tool{}, logger: opts.Logger}
}

// Register adds tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("tool %q already registered", t.Name())
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return nil
}

// Definitions returns the declarations of all registered tools in
// registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Call implements Executor.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewToolError(name, "tool not found", CodeNotFound)
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", name)

	result, err := t.Call(ctx, args)
	if err != nil {
		r.logger.Warn("tool.call.error", "tool", name, "error", err.Error())
		return nil, err
	}

	r.logger.Info("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())

	if m, ok := result.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": result}, nil
}
