package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/genloop/core"
)

// CallbackType defines the lifecycle points where callbacks are executed.
//
// Callbacks provide a mechanism for hooking into the engine's run pipeline
// without modifying flow code. They are executed synchronously.
//
// Available callback types:
//   - BeforeRun/AfterRun: around a complete Run or Resume
//   - OnPending: when a run pauses for a human selection
//   - OnCancel: when a paused selection is abandoned
//   - OnError: when a run fails, after classification
type CallbackType string

const (
	// CallbackBeforeRun is triggered after input validation and before the
	// first model call. Returning an error rejects the run as invalid input.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered after a run produced a result.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackOnPending is triggered when a run returns a pending selection.
	CallbackOnPending CallbackType = "on_pending"

	// CallbackOnCancel is triggered when a pending selection is cancelled.
	CallbackOnCancel CallbackType = "on_cancel"

	// CallbackOnError is triggered when a run fails. Errors returned by
	// these callbacks are ignored.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the run information available to a callback.
// Fields that do not apply to the triggering point are left zero.
type CallbackContext struct {
	RunID     string
	Mode      Mode
	Operation string // "run" or "resume"
	Message   string

	Result  *Result
	Pending *core.PendingSelection
	Err     *core.Error

	// Metadata provides extensible storage shared by callbacks of one run.
	Metadata map[string]any
}

// Callback defines the interface for run lifecycle hooks.
//
// Implementations should be fast (they block the run) and safe for
// concurrent use (several runs may trigger them at once).
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackOnPending,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("run %s waiting on %d candidates", cc.RunID, len(cc.Pending.Candidates))
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type. Callbacks of one type run in
// registration order; the first error stops the chain and is returned.
// Registration and execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(loggingCallback)
//	manager.RegisterCallback(NewMessageValidationCallback(rejectEmptyPrompts))
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards a one-line summary of each lifecycle event to a
// logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterRun, func(m string) { log.Print(m) })
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event. Without a logger function it is a no-op.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	message := fmt.Sprintf("[%s] run=%s mode=%s", c.callbackType, callbackCtx.RunID, callbackCtx.Mode)
	switch {
	case callbackCtx.Err != nil:
		message += fmt.Sprintf(" error=%s", callbackCtx.Err.Kind)
	case callbackCtx.Pending != nil:
		message += fmt.Sprintf(" candidates=%d", len(callbackCtx.Pending.Candidates))
	case callbackCtx.Result != nil && callbackCtx.Result.Final != nil:
		message += fmt.Sprintf(" images=%d", len(callbackCtx.Result.Final.Images))
	}
	c.logger(message)
	return nil
}

// MessageValidationCallback rejects runs whose message fails a caller-supplied
// check. It runs at CallbackBeforeRun, so a rejected run makes no remote call.
//
// Example:
//
//	callback := NewMessageValidationCallback(func(msg string) error {
//	    if len(msg) > 2000 {
//	        return errors.New("message is too long")
//	    }
//	    return nil
//	})
type MessageValidationCallback struct {
	validator func(message string) error
}

// NewMessageValidationCallback creates a new message validation callback.
func NewMessageValidationCallback(validator func(message string) error) *MessageValidationCallback {
	return &MessageValidationCallback{validator: validator}
}

// Type returns the callback type (always CallbackBeforeRun).
func (c *MessageValidationCallback) Type() CallbackType {
	return CallbackBeforeRun
}

// Execute applies the validator to the run's message.
func (c *MessageValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator == nil {
		return nil
	}
	if err := c.validator(callbackCtx.Message); err != nil {
		return &core.Error{Kind: core.KindValidation, Message: err.Error(), Err: err}
	}
	return nil
}
