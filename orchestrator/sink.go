package orchestrator

import (
	"context"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/pkg/llms"
)

// ChunkType is the type of a streamed chunk
type ChunkType string

const (
	ChunkTextDelta  ChunkType = "text-delta"
	ChunkToolResult ChunkType = "tool-result"
	ChunkStep       ChunkType = "step"
	ChunkFinish     ChunkType = "finish"
	ChunkError      ChunkType = "error"
)

// Chunk is an incremental piece of a run sent to the client
type Chunk struct {
	Type ChunkType `json:"type"`
	// Step is the index of the step, starting at 0
	Step int `json:"step"`

	Text       string                    `json:"text,omitempty"`
	Invocation *chatmodel.ToolInvocation `json:"toolInvocation,omitempty"`
	Record     *StepRecord               `json:"step_record,omitempty"`

	// State and Usage are set on finish
	State State      `json:"state,omitempty"`
	Usage llms.Usage `json:"usage"`

	Error string `json:"error,omitempty"`
}

// Sink receives chunks in order
type Sink interface {
	Send(ctx context.Context, chunk *Chunk) error
}

// SinkFunc is an adapter to use a function as a Sink
type SinkFunc func(ctx context.Context, chunk *Chunk) error

// Send calls f
func (f SinkFunc) Send(ctx context.Context, chunk *Chunk) error {
	return f(ctx, chunk)
}

// Discard is a Sink that drops all chunks
var Discard Sink = SinkFunc(func(context.Context, *Chunk) error { return nil })
