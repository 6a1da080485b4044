package confirm

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/pkg/metricskey"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
)

// Decision is the user answer to a pending invocation
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
)

// Decisions maps tool call IDs to decisions
type Decisions map[string]Decision

// DeniedResult is the result of a denied invocation
const DeniedResult = "Error: User denied access to tool execution"

// ErrNoExecutor is the failure of an approved invocation without a registered executor
var ErrNoExecutor = errors.New("no executor registered")

// SideEffect records an executor run for an approved invocation
type SideEffect struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any
	Err        error
}

// Option configures Resolve
type Option func(*options)

type options struct {
	callback tools.Callback
}

// WithCallback reports executor runs to cb
func WithCallback(cb tools.Callback) Option {
	return func(o *options) {
		o.callback = cb
	}
}

// Resolve applies decisions to pending invocations, in order.
//
// An invocation without a decision stays untouched.
// A denied one gets DeniedResult and no executor runs.
// An approved one runs its executor once, a failure becomes the error payload of the result.
//
// Messages are never mutated: a changed message is replaced by a copy
// with only the affected parts replaced, all other messages and parts are returned as is.
// When nothing changes the input slice itself is returned.
// Resolving the output again is a no-op, since resolved invocations are no longer in call state.
func Resolve(
	ctx context.Context,
	messages []*chatmodel.Message,
	pending []Pending,
	decisions Decisions,
	executors tools.Executors,
	opts ...Option,
) ([]*chatmodel.Message, []*SideEffect) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var out []*chatmodel.Message
	var effects []*SideEffect
	cloned := make(map[int]bool)

	for _, p := range pending {
		inv := currentInvocation(messages, p)
		if inv == nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "pending_not_found",
				"message", p.MessageIndex,
				"part", p.PartIndex,
			)
			continue
		}
		if !inv.IsCall() {
			continue
		}

		decision, ok := decisions[inv.ToolCallID]
		if !ok {
			continue
		}

		var resolved *chatmodel.ToolInvocation
		switch decision {
		case Denied:
			metricskey.StatsConfirmationsDenied.IncrCounter(1, inv.ToolName)
			resolved = inv.WithResult(DeniedResult)
		case Approved:
			metricskey.StatsConfirmationsApproved.IncrCounter(1, inv.ToolName)
			fn := executors[inv.ToolName]
			if fn == nil {
				logger.ContextKV(ctx, xlog.WARNING,
					"status", "no_executor",
					"tool", inv.ToolName,
					"tool_call_id", inv.ToolCallID,
				)
				resolved = inv.WithError(errors.WithMessagef(ErrNoExecutor, "tool %s", inv.ToolName))
				break
			}
			res, err := tools.Invoke(ctx, o.callback, inv.ToolName, fn, inv.Args)
			effects = append(effects, &SideEffect{
				ToolCallID: inv.ToolCallID,
				ToolName:   inv.ToolName,
				Args:       inv.Args,
				Result:     res,
				Err:        err,
			})
			if err != nil {
				resolved = inv.WithError(err)
			} else {
				resolved = inv.WithResult(res)
			}
		default:
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "unknown_decision",
				"decision", decision,
				"tool_call_id", inv.ToolCallID,
			)
			continue
		}

		if out == nil {
			out = slices.Clone(messages)
		}
		if !cloned[p.MessageIndex] {
			out[p.MessageIndex] = out[p.MessageIndex].Clone()
			cloned[p.MessageIndex] = true
		}
		out[p.MessageIndex].Parts[p.PartIndex].ToolInvocation = resolved

		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "resolved",
			"tool", inv.ToolName,
			"tool_call_id", inv.ToolCallID,
			"decision", decision,
		)
	}

	if out == nil {
		return messages, effects
	}
	return out, effects
}

func currentInvocation(messages []*chatmodel.Message, p Pending) *chatmodel.ToolInvocation {
	if p.MessageIndex < 0 || p.MessageIndex >= len(messages) {
		return nil
	}
	m := messages[p.MessageIndex]
	if m == nil || p.PartIndex < 0 || p.PartIndex >= len(m.Parts) {
		return nil
	}
	part := m.Parts[p.PartIndex]
	if part.Type != chatmodel.PartToolInvocation {
		return nil
	}
	return part.ToolInvocation
}
