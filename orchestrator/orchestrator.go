// Package orchestrator drives the bounded multi-step loop between a model
// and the tools of a catalog, streaming the progress to a Sink.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/confirm"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/pkg/metricskey"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "orchestrator")

// Request is the input of a run
type Request struct {
	// Messages is the conversation, pending confirmations must be resolved
	Messages []*chatmodel.Message
	// Catalog is the merged tool catalog of the request
	Catalog tools.Catalog
}

// StepRecord describes a completed step
type StepRecord struct {
	Index        int                         `json:"index"`
	Text         string                      `json:"text,omitempty"`
	ToolCalls    []*chatmodel.ToolInvocation `json:"tool_calls,omitempty"`
	ToolResults  []*chatmodel.ToolInvocation `json:"tool_results,omitempty"`
	FinishReason llms.FinishReason           `json:"finish_reason"`
	Usage        llms.Usage                  `json:"usage"`
}

// Result of a run, returned on every path
type Result struct {
	State State `json:"state"`
	// Messages is the conversation up to the last completed step
	Messages []*chatmodel.Message `json:"messages"`
	Steps    []*StepRecord        `json:"steps,omitempty"`
	Usage    llms.Usage           `json:"usage"`
	// Pending is set when the run ends in StateAwaitingConfirmation
	Pending []confirm.Pending `json:"-"`
}

// Orchestrator runs the step loop against a model
type Orchestrator struct {
	model llms.Model
	cfg   *Config
}

// New returns an Orchestrator
func New(model llms.Model, opts ...Option) *Orchestrator {
	return &Orchestrator{
		model: model,
		cfg:   NewConfig(opts...),
	}
}

// Config returns the configuration
func (o *Orchestrator) Config() *Config {
	return o.cfg
}

// Run executes steps until the model stops calling tools, a tool needs
// a confirmation, or MaxSteps is reached.
// The returned Result is never nil, on error it holds the conversation
// up to the last completed step.
func (o *Orchestrator) Run(ctx context.Context, req *Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = Discard
	}
	started := time.Now()

	res := &Result{
		State:    StateAwaitingModel,
		Messages: slices.Clip(req.Messages),
	}

	err := o.run(ctx, req, res, sink)
	if err != nil {
		res.State = StateError
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "run_failed",
			"run_id", chatmodel.GetRunID(ctx),
			"steps", len(res.Steps),
			"err", err.Error(),
		)
		o.send(ctx, &Chunk{Type: ChunkError, Step: len(res.Steps), Error: err.Error()}, sink)
	}
	o.send(ctx, &Chunk{Type: ChunkFinish, Step: len(res.Steps), State: res.State, Usage: res.Usage}, sink)

	metricskey.StatsRunsFinished.IncrCounter(1, res.State.String())
	metricskey.PerfChatRun.MeasureSince(started, res.State.String())

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "run_finished",
		"run_id", chatmodel.GetRunID(ctx),
		"state", res.State,
		"steps", len(res.Steps),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)

	if cb := o.cfg.Callback; cb != nil {
		cb.OnRunEnd(ctx, res, err)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req *Request, res *Result, sink Sink) error {
	confirmSet := tools.RequiresConfirmation(req.Catalog)
	if err := o.executeCarried(ctx, req.Catalog, confirmSet, res, sink); err != nil {
		return err
	}
	if pending := confirm.FindPending(res.Messages, confirmSet); len(pending) > 0 {
		res.State = StateAwaitingConfirmation
		res.Pending = pending
		logger.ContextKV(ctx, xlog.INFO,
			"status", "awaiting_confirmation",
			"reason", ErrUnresolvedPendingCall.Error(),
			"pending", len(pending),
		)
		return nil
	}

	callOpts := o.callOptions(ctx, req.Catalog)
	cb := o.cfg.Callback

	for step := 0; ; step++ {
		if step >= o.cfg.MaxSteps {
			res.State = StateStepLimitReached
			logger.ContextKV(ctx, xlog.INFO,
				"status", "step_limit_reached",
				"max_steps", o.cfg.MaxSteps,
			)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.WithMessagef(err, "run cancelled before step %d", step)
		}

		res.State = StateAwaitingModel
		if cb != nil {
			cb.OnStepStart(ctx, step, res.Messages)
		}

		msg, rec, err := o.streamStep(ctx, step, res.Messages, callOpts, sink)
		if err != nil {
			return err
		}
		res.Messages = append(res.Messages, msg)
		res.Usage = res.Usage.Add(rec.Usage)

		halt := false
		if len(rec.ToolCalls) > 0 {
			if hasAutoCalls(msg, confirmSet) {
				res.State = StateToolsPendingAutoExec
			}
			halt, err = o.executeTools(ctx, step, msg, req.Catalog, confirmSet, rec, sink)
			if err != nil {
				return err
			}
		}

		res.Steps = append(res.Steps, rec)
		metricskey.StatsStepsCompleted.IncrCounter(1, o.model.GetName())
		if cb != nil {
			cb.OnStepFinish(ctx, rec)
		}
		if err = sink.Send(ctx, &Chunk{Type: ChunkStep, Step: step, Record: rec}); err != nil {
			return errors.WithMessage(err, "failed to send step")
		}

		switch {
		case halt:
			res.State = StateAwaitingConfirmation
			res.Pending = confirm.FindPending(res.Messages, confirmSet)
			return nil
		case len(rec.ToolCalls) == 0:
			res.State = StateDone
			return nil
		}
	}
}

func (o *Orchestrator) callOptions(ctx context.Context, catalog tools.Catalog) []llms.CallOption {
	provider := o.model.GetProviderType()

	var opts []llms.CallOption
	if provider.Supports(llms.CapabilityFunctionCalling) {
		opts = append(opts,
			llms.WithTools(catalog.LLMTools()),
			llms.WithToolChoice(o.cfg.ToolChoice),
		)
	} else if len(catalog) > 0 {
		logger.ContextKV(ctx, xlog.WARNING,
			"reason", "tools_not_supported",
			"provider", provider,
			"tools", len(catalog),
		)
	}
	if o.cfg.System != "" {
		if provider.Supports(llms.CapabilitySystemPrompt) {
			opts = append(opts, llms.WithSystem(o.cfg.System))
		} else {
			logger.ContextKV(ctx, xlog.WARNING,
				"reason", "system_prompt_not_supported",
				"provider", provider,
			)
		}
	}
	if o.cfg.Model != "" {
		opts = append(opts, llms.WithModel(o.cfg.Model))
	}
	if o.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.cfg.MaxTokens))
	}
	if o.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(o.cfg.Temperature))
	}
	return opts
}

// streamStep reads a full model response. Only a response that ended with
// a finish event and no stream error is returned.
func (o *Orchestrator) streamStep(
	ctx context.Context,
	step int,
	messages []*chatmodel.Message,
	opts []llms.CallOption,
	sink Sink,
) (*chatmodel.Message, *StepRecord, error) {
	modelName := o.model.GetName()
	started := time.Now()
	defer metricskey.PerfModelStep.MeasureSince(started, modelName)

	stream, err := o.model.StreamContent(ctx, messages, opts...)
	if err != nil {
		return nil, nil, o.providerError(ctx, step, err)
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	var calls []*llms.ToolCall
	var finish *llms.Event

	for stream.Next() {
		ev := stream.Current()
		if ev == nil {
			continue
		}
		switch ev.Type {
		case llms.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err = sink.Send(ctx, &Chunk{Type: ChunkTextDelta, Step: step, Text: ev.Text}); err != nil {
				return nil, nil, errors.WithMessage(err, "failed to send text")
			}
		case llms.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, ev.ToolCall)
			}
		case llms.EventFinish:
			finish = ev
		}
	}
	if err = stream.Err(); err != nil {
		return nil, nil, o.providerError(ctx, step, err)
	}
	if finish == nil {
		return nil, nil, o.providerError(ctx, step, llms.ErrIncompleteResponse)
	}

	metricskey.StatsLLMInputTokens.IncrCounter(float64(finish.Usage.InputTokens), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(finish.Usage.OutputTokens), modelName)

	rec := &StepRecord{
		Index:        step,
		Text:         text.String(),
		FinishReason: finish.FinishReason,
		Usage:        finish.Usage,
	}

	msg := chatmodel.NewMessage(chatmodel.RoleAssistant)
	if rec.Text != "" {
		msg.Parts = append(msg.Parts, chatmodel.TextPart(rec.Text))
	}
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		inv := &chatmodel.ToolInvocation{
			ToolCallID: id,
			ToolName:   c.Name,
			Args:       args,
			State:      chatmodel.StateCall,
		}
		msg.Parts = append(msg.Parts, chatmodel.ToolInvocationPart(inv))
		rec.ToolCalls = append(rec.ToolCalls, inv)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "step_received",
		"step", step,
		"model", modelName,
		"finish_reason", finish.FinishReason,
		"tool_calls", len(calls),
	)
	return msg, rec, nil
}

// executeCarried runs the auto calls left unresolved in the last message,
// for example by a request that failed while its tools were running.
// The message is replaced by a resolved copy before the first step.
func (o *Orchestrator) executeCarried(ctx context.Context, catalog tools.Catalog, confirmSet tools.NameSet, res *Result, sink Sink) error {
	n := len(res.Messages)
	if n == 0 || !hasAutoCalls(res.Messages[n-1], confirmSet) {
		return nil
	}

	msg := res.Messages[n-1].Clone()
	res.Messages = slices.Clone(res.Messages)
	res.Messages[n-1] = msg
	res.State = StateToolsPendingAutoExec

	logger.ContextKV(ctx, xlog.INFO,
		"status", "carried_tool_calls",
		"message_id", msg.ID,
	)

	rec := &StepRecord{Index: len(res.Steps)}
	_, err := o.executeTools(ctx, rec.Index, msg, catalog, confirmSet, rec, sink)
	return err
}

// hasAutoCalls returns true if msg has a call state invocation
// of a tool that does not need a confirmation
func hasAutoCalls(msg *chatmodel.Message, confirmSet tools.NameSet) bool {
	for _, inv := range msg.ToolInvocations() {
		if inv.IsCall() && !confirmSet.Has(inv.ToolName) {
			return true
		}
	}
	return false
}

// executeTools runs the auto tools of msg in issue order and replaces their
// parts with results. It returns true when an invocation needs a confirmation.
func (o *Orchestrator) executeTools(
	ctx context.Context,
	step int,
	msg *chatmodel.Message,
	catalog tools.Catalog,
	confirmSet tools.NameSet,
	rec *StepRecord,
	sink Sink,
) (bool, error) {
	halt := false
	for i, p := range msg.Parts {
		inv := p.ToolInvocation
		if p.Type != chatmodel.PartToolInvocation || !inv.IsCall() {
			continue
		}
		if confirmSet.Has(inv.ToolName) {
			halt = true
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "requires_confirmation",
				"tool", inv.ToolName,
				"tool_call_id", inv.ToolCallID,
			)
			continue
		}

		resolved := o.executeTool(ctx, inv, catalog)
		msg.Parts[i].ToolInvocation = resolved
		rec.ToolResults = append(rec.ToolResults, resolved)

		if err := sink.Send(ctx, &Chunk{Type: ChunkToolResult, Step: step, Invocation: resolved}); err != nil {
			return halt, errors.WithMessage(err, "failed to send tool result")
		}
	}
	return halt, nil
}

func (o *Orchestrator) executeTool(ctx context.Context, inv *chatmodel.ToolInvocation, catalog tools.Catalog) *chatmodel.ToolInvocation {
	def, ok := catalog.Get(inv.ToolName)
	if !ok || def.Execute == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, inv.ToolName)
		if cb := o.cfg.Callback; cb != nil {
			cb.OnToolNotFound(ctx, inv.ToolName, inv.Args)
		}

		availableTools := strings.Join(catalog.Names(), ", ")
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_not_found",
			"tool", inv.ToolName,
			"available_tools", availableTools,
		)
		return inv.WithError(errors.Newf("tool `%s` not found, available tools: %s", inv.ToolName, availableTools))
	}

	// tools complete even if the request is cancelled, the loop stops between steps
	toolCtx := context.WithoutCancel(ctx)
	if o.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(toolCtx, o.cfg.ToolTimeout)
		defer cancel()
	}

	var cb tools.Callback
	if o.cfg.Callback != nil {
		cb = o.cfg.Callback
	}
	res, err := tools.Invoke(toolCtx, cb, inv.ToolName, def.Execute, inv.Args)
	if err != nil {
		return inv.WithError(err)
	}
	return inv.WithResult(res)
}

func (o *Orchestrator) providerError(ctx context.Context, step int, err error) error {
	metricskey.StatsLLMCallsFailed.IncrCounter(1, o.model.GetName())
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.WithMessage(err, ctxErr.Error())
	}
	logger.ContextKV(ctx, xlog.WARNING,
		"status", "provider_failed",
		"step", step,
		"model", o.model.GetName(),
		"err", err.Error(),
	)
	return errors.WithStack(&ProviderError{Step: step, Err: err})
}

func (o *Orchestrator) send(ctx context.Context, chunk *Chunk, sink Sink) {
	if err := sink.Send(context.WithoutCancel(ctx), chunk); err != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "send_failed",
			"chunk", chunk.Type,
			"err", err.Error(),
		)
	}
}

// String returns a short description of the step
func (r *StepRecord) String() string {
	return fmt.Sprintf("step %d: finish=%s calls=%d results=%d", r.Index, r.FinishReason, len(r.ToolCalls), len(r.ToolResults))
}
