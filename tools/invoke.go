package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Callback receives tool execution events
type Callback interface {
	OnToolStart(ctx context.Context, name string, args map[string]any)
	OnToolEnd(ctx context.Context, name string, args map[string]any, result any)
	OnToolError(ctx context.Context, name string, args map[string]any, err error)
}

// ExecutionError is a failure raised by a tool handler.
// It is reported in-band as the invocation result.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Err.Error())
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Invoke runs fn once with args and reports the events to cb, which may be nil.
// A panic in fn is returned as ExecutionError.
func Invoke(ctx context.Context, cb Callback, name string, fn ExecuteFunc, args map[string]any) (res any, err error) {
	if cb != nil {
		cb.OnToolStart(ctx, name, args)
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, name)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic: %v", r)
			}
		}()
		res, err = fn(ctx, args)
	}()

	if err != nil {
		err = &ExecutionError{Tool: name, Err: err}
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"tool", name,
			"err", err.Error(),
		)
		if cb != nil {
			cb.OnToolError(ctx, name, args, err)
		}
		return nil, err
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	if cb != nil {
		cb.OnToolEnd(ctx, name, args, res)
	}
	return res, nil
}
