package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/orchestrator"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = (*Noop)(nil)
	_ orchestrator.Callback = (*Printer)(nil)
	_ orchestrator.Callback = (*PackageLogger)(nil)
	_ orchestrator.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnStepStart(ctx context.Context, step int, messages []*chatmodel.Message) {
	for _, callback := range l.callbacks {
		callback.OnStepStart(ctx, step, messages)
	}
}

func (l *Fanout) OnStepFinish(ctx context.Context, rec *orchestrator.StepRecord) {
	for _, callback := range l.callbacks {
		callback.OnStepFinish(ctx, rec)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, name string, args map[string]any) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, name, args)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, name string, args map[string]any, result any) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, name, args, result)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, name string, args map[string]any, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, name, args, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, name string, args map[string]any) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, name, args)
	}
}

func (l *Fanout) OnRunEnd(ctx context.Context, res *orchestrator.Result, err error) {
	for _, callback := range l.callbacks {
		callback.OnRunEnd(ctx, res, err)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnStepStart(ctx context.Context, step int, messages []*chatmodel.Message) {
}
func (l *Noop) OnStepFinish(ctx context.Context, rec *orchestrator.StepRecord) {
}
func (l *Noop) OnToolStart(ctx context.Context, name string, args map[string]any) {
}
func (l *Noop) OnToolEnd(ctx context.Context, name string, args map[string]any, result any) {
}
func (l *Noop) OnToolError(ctx context.Context, name string, args map[string]any, err error) {
}
func (l *Noop) OnToolNotFound(ctx context.Context, name string, args map[string]any) {
}
func (l *Noop) OnRunEnd(ctx context.Context, res *orchestrator.Result, err error) {
}

// Printer is a callback handler that prints to the Writer.
// In the default mode only the step reports and errors are printed.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnStepStart(ctx context.Context, step int, messages []*chatmodel.Message) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Step Start: %d, %d messages\n", step+1, len(messages))
}

// OnStepFinish prints the step report
func (l *Printer) OnStepFinish(ctx context.Context, rec *orchestrator.StepRecord) {
	l.lock.Lock()
	defer l.lock.Unlock()

	fmt.Fprintf(l.Out, "\nStep %d Finished:\n", rec.Index+1)
	fmt.Fprintf(l.Out, "Finish Reason: %s\n", rec.FinishReason)
	fmt.Fprintf(l.Out, "Model Response: %s\n", rec.Text)

	if len(rec.ToolCalls) > 0 {
		fmt.Fprintln(l.Out, "Tool Calls:")
		for i, call := range rec.ToolCalls {
			fmt.Fprintf(l.Out, "  [%d] Tool: %s, Arguments: %s\n", i+1, call.ToolName, chatmodel.Stringify(call.Args))
		}
	}
	if len(rec.ToolResults) > 0 {
		fmt.Fprintln(l.Out, "Tool Results:")
		for i, res := range rec.ToolResults {
			fmt.Fprintf(l.Out, "  [%d] Result: %s\n", i+1, resultString(res))
		}
	}
	u := rec.Usage
	fmt.Fprintf(l.Out, "Usage: input=%d, output=%d, total=%d\n", u.InputTokens, u.OutputTokens, u.TotalTokens)
	fmt.Fprintln(l.Out, "------------------------")
}

func (l *Printer) OnToolStart(ctx context.Context, name string, args map[string]any) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", name)
	fmt.Fprintf(l.Out, "Input: %s\n", chatmodel.Stringify(args))
}

func (l *Printer) OnToolEnd(ctx context.Context, name string, args map[string]any, result any) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s\n", name)
	fmt.Fprintf(l.Out, "Output: %s\n", chatmodel.Stringify(result))
}

func (l *Printer) OnToolError(ctx context.Context, name string, args map[string]any, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", name, err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, name string, args map[string]any) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", name)
}

func (l *Printer) OnRunEnd(ctx context.Context, res *orchestrator.Result, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if err != nil {
		fmt.Fprintf(l.Out, "Run Error: %s\n", err.Error())
	}
	if res != nil {
		fmt.Fprintf(l.Out, "Run End: %s, %d steps\n", res.State, len(res.Steps))
	}
}

func resultString(inv *chatmodel.ToolInvocation) string {
	if inv.IsError() {
		return inv.Error
	}
	return chatmodel.Stringify(inv.Result)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnStepStart(ctx context.Context, step int, messages []*chatmodel.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "step_start",
		"step", step,
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnStepFinish(ctx context.Context, rec *orchestrator.StepRecord) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "step_finish",
		"step", rec.Index,
		"finish_reason", rec.FinishReason,
		"tool_calls", len(rec.ToolCalls),
		"tool_results", len(rec.ToolResults),
		"total_tokens", rec.Usage.TotalTokens,
	)
	if rec.Text != "" {
		l.logger.ContextKV(ctx, xlog.DEBUG, "result", slices.StringUpto(rec.Text, 256))
	}
}

func (l *PackageLogger) OnToolStart(ctx context.Context, name string, args map[string]any) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", name,
		"input", slices.StringUpto(chatmodel.Stringify(args), 256),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, name string, args map[string]any, result any) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", name,
		"output", slices.StringUpto(chatmodel.Stringify(result), 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, name string, args map[string]any, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", name,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, name string, args map[string]any) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"tool", name,
	)
}

func (l *PackageLogger) OnRunEnd(ctx context.Context, res *orchestrator.Result, err error) {
	if err != nil {
		l.logger.ContextKV(ctx, xlog.ERROR,
			"event", "run_error",
			"err", err.Error(),
		)
	}
	if res != nil {
		l.logger.ContextKV(ctx, xlog.DEBUG,
			"event", "run_end",
			"state", res.State,
			"steps", len(res.Steps),
			"total_tokens", res.Usage.TotalTokens,
		)
	}
}
