package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/dealmesh/aggregate"
	"github.com/hupe1980/dealmesh/core"
)

// CallbackType defines the lifecycle points of a batch where callbacks run.
//
// Callbacks are executed synchronously. An error returned by a BeforeCar
// callback aborts the batch; errors of the other types are logged.
type CallbackType string

const (
	// CallbackBeforeCar is triggered before a car enters the graph.
	CallbackBeforeCar CallbackType = "before_car"

	// CallbackAfterCar is triggered once a car report exists.
	CallbackAfterCar CallbackType = "after_car"

	// CallbackOnError is triggered when a run fails without a report from
	// the graph (the engine then substitutes a failed report).
	CallbackOnError CallbackType = "on_error"

	// CallbackAfterBatch is triggered after aggregation, before artifacts
	// are written.
	CallbackAfterBatch CallbackType = "after_batch"
)

// CallbackContext carries what a callback may inspect. Fields not relevant
// to the callback type are zero.
type CallbackContext struct {
	SessionID string
	// Index is the car's position in the batch.
	Index  int
	Car    core.Car
	Report *core.CarReport
	Err    error
	// Summary is set for CallbackAfterBatch.
	Summary *aggregate.Summary

	CallbackType CallbackType
}

// Callback is a hook at one lifecycle point.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback from fn.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds registered callbacks. Cars run concurrently, so it
// is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks of a type in registration order and
// stops at the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback writes one progress line per invocation.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a progress callback; the CLI uses it to print
// per-car status to stderr.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] #%d %s", c.callbackType, callbackCtx.Index+1, callbackCtx.Car.Title())
	if r := callbackCtx.Report; r != nil {
		if r.Status.Success {
			msg += ": ok"
		} else {
			msg += ": failed " + r.Error
		}
	}
	if callbackCtx.Err != nil {
		msg += ": " + callbackCtx.Err.Error()
	}
	if s := callbackCtx.Summary; s != nil {
		msg = fmt.Sprintf("[%s] %d/%d successful", c.callbackType, s.SuccessfulAnalyses, s.TotalCars)
	}
	c.logger(msg)
	return nil
}
