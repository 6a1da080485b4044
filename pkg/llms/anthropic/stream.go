package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/pkg/llms"
)

// eventSource is implemented by the SDK SSE stream
type eventSource interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type toolUse struct {
	id   string
	name string
	args strings.Builder
}

// stream translates SDK events to llms events.
// Text deltas are forwarded as they arrive, a tool call is emitted once its
// input is complete, and the finish event is emitted on message_stop.
type stream struct {
	src     eventSource
	current *llms.Event
	err     error

	tool       *toolUse
	stopReason anthropic.StopReason
	usage      llms.Usage
}

func newStream(src eventSource) *stream {
	return &stream{src: src}
}

func (s *stream) Next() bool {
	s.current = nil
	if s.err != nil {
		return false
	}
	for s.src.Next() {
		if ev := s.translate(s.src.Current()); ev != nil {
			s.current = ev
			return true
		}
		if s.err != nil {
			return false
		}
	}
	return false
}

func (s *stream) Current() *llms.Event {
	return s.current
}

func (s *stream) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.src.Err(); err != nil {
		return errors.Wrap(err, "anthropic: streaming error")
	}
	return nil
}

func (s *stream) Close() error {
	return s.src.Close()
}

func (s *stream) translate(event anthropic.MessageStreamEventUnion) *llms.Event {
	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.usage.InputTokens = evt.Message.Usage.InputTokens
	case anthropic.ContentBlockStartEvent:
		if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.tool = &toolUse{id: block.ID, name: block.Name}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				return llms.TextDelta(delta.Text)
			}
		case anthropic.InputJSONDelta:
			if s.tool != nil {
				s.tool.args.WriteString(delta.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		if s.tool == nil {
			return nil
		}
		tool := s.tool
		s.tool = nil

		args := map[string]any{}
		if raw := strings.TrimSpace(tool.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				s.err = errors.Wrapf(err, "anthropic: invalid input of tool %s", tool.name)
				return nil
			}
		}
		return llms.ToolCallEvent(tool.id, tool.name, args)
	case anthropic.MessageDeltaEvent:
		s.stopReason = evt.Delta.StopReason
		s.usage.OutputTokens = evt.Usage.OutputTokens
	case anthropic.MessageStopEvent:
		s.usage.TotalTokens = s.usage.InputTokens + s.usage.OutputTokens
		return llms.FinishEvent(FinishReason(s.stopReason), s.usage)
	}
	return nil
}

// FinishReason maps the SDK stop reason
func FinishReason(reason anthropic.StopReason) llms.FinishReason {
	switch string(reason) {
	case "end_turn", "stop_sequence":
		return llms.FinishReasonStop
	case "tool_use":
		return llms.FinishReasonToolCalls
	case "max_tokens":
		return llms.FinishReasonLength
	case "":
		return llms.FinishReasonStop
	default:
		return llms.FinishReasonOther
	}
}
