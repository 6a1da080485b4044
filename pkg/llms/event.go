package llms

import (
	"github.com/cockroachdb/errors"
)

// EventType is the kind of a stream event
type EventType string

const (
	EventTextDelta EventType = "text-delta"
	EventToolCall  EventType = "tool-call"
	EventFinish    EventType = "finish"
)

// FinishReason tells why the model stopped
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool-calls"
	FinishReasonLength    FinishReason = "length"
	FinishReasonError     FinishReason = "error"
	FinishReasonOther     FinishReason = "other"
)

// ErrIncompleteResponse is returned when a stream ends without a finish event.
var ErrIncompleteResponse = errors.New("incomplete model response")

// ToolCall is a fully received tool call
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Usage is the token accounting of a response
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// Add returns the sum of u and o
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// Event is a single item of a ContentStream
type Event struct {
	Type EventType `json:"type"`
	// Text is set for text-delta
	Text string `json:"text,omitempty"`
	// ToolCall is set for tool-call
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	// FinishReason and Usage are set for finish
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Usage        Usage        `json:"usage"`
}

func TextDelta(text string) *Event {
	return &Event{Type: EventTextDelta, Text: text}
}

func ToolCallEvent(id, name string, args map[string]any) *Event {
	return &Event{Type: EventToolCall, ToolCall: &ToolCall{ID: id, Name: name, Args: args}}
}

func FinishEvent(reason FinishReason, usage Usage) *Event {
	return &Event{Type: EventFinish, FinishReason: reason, Usage: usage}
}

// staticStream replays a fixed list of events
type staticStream struct {
	events []*Event
	err    error
	pos    int
	closed bool
}

// NewStaticStream returns a ContentStream over events,
// that reports err after the last event.
func NewStaticStream(err error, events ...*Event) ContentStream {
	return &staticStream{events: events, err: err, pos: -1}
}

func (s *staticStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		return false
	}
	s.pos++
	return true
}

func (s *staticStream) Current() *Event {
	if s.pos < 0 || s.pos >= len(s.events) {
		return nil
	}
	return s.events[s.pos]
}

func (s *staticStream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}

func (s *staticStream) Close() error {
	s.closed = true
	return nil
}
