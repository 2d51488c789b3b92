// Package tool implements the tool calling subsystem: the Executor contract
// the orchestration loop dispatches through, schema validated in-process
// function tools, uniform error handling and the retry policy remote
// executors apply per call.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/genloop/internal/util"
	"github.com/hupe1980/genloop/model"
)

// Executor runs one named tool call and returns its result mapping.
//
// Implementations must be safe for concurrent use: a dispatch round calls
// Call from several goroutines at once.
type Executor interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

// Call implements Executor.
func (f ExecutorFunc) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return f(ctx, name, args)
}

// Tool defines an in-process capability that can be registered with a Registry.
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Definition converts a Tool into the declaration sent to the model.
func Definition(t Tool) model.ToolDefinition {
	return model.NewFunctionDefinition(t.Name(), t.Description(), t.Parameters())
}

// ErrUnavailable is returned when no tool server is configured.
var ErrUnavailable = errors.New("tool server is not configured")

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeToolFailed       = "TOOL_FAILED"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
	CodeUnavailable      = "UNAVAILABLE"
)

// ToolError represents errors that occur during tool execution. It always
// names the tool so failures can be attributed per call in a parallel round.
type ToolError struct {
	Tool     string `json:"tool"`               // Name of the tool that failed
	Message  string `json:"message"`            // Error message
	Code     string `json:"code"`               // Error code for categorization
	Attempts int    `json:"attempts,omitempty"` // Attempts made before giving up
	Details  any    `json:"details,omitempty"`  // Additional error details
	Err      error  `json:"-"`                  // Last underlying cause
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Validation, lookup and
// server-reported tool failures are permanent, as is any error wrapped with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	var te *ToolError
	if errors.As(err, &te) {
		switch te.Code {
		case CodeValidation, CodeNotFound, CodeToolFailed, CodeUnavailable:
			return true
		}
	}
	return errors.Is(err, ErrUnavailable)
}
