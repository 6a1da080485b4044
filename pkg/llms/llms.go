package llms

import (
	"context"

	"github.com/effective-security/gohitl/chatmodel"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llms_mock.gen.go -package mockllms

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the type of provider.
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderFake is used by tests and local playback.
	ProviderFake ProviderType = "FAKE"
)

// Model is a streaming chat model with tool calling.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GetName returns the model name.
	GetName() string
	// StreamContent starts a model response for the conversation.
	// The returned stream must be closed by the caller.
	StreamContent(ctx context.Context, messages []*chatmodel.Message, options ...CallOption) (ContentStream, error)
}

// ContentStream is an iterator over response events.
type ContentStream interface {
	// Next advances the stream, returns false at the end or on error.
	Next() bool
	// Current returns the event the stream is positioned on.
	Current() *Event
	// Err returns the error that stopped the stream, if any.
	Err() error
	// Close releases the underlying connection.
	Close() error
}

// Capability is a bitmask indicating supported features of an LLM provider.
type Capability uint64

const (
	// Function/tool calling
	CapabilityFunctionCalling Capability = 1 << iota
	// System prompt support
	CapabilitySystemPrompt
)

var providerCapabilities = map[ProviderType]Capability{
	ProviderAnthropic: CapabilityFunctionCalling | CapabilitySystemPrompt,
	ProviderFake:      CapabilityFunctionCalling | CapabilitySystemPrompt,
}

func ProviderCapabilities(pt ProviderType) Capability {
	return providerCapabilities[pt]
}

func (p ProviderType) Supports(cap Capability) bool {
	return ProviderCapabilities(p)&cap != 0
}
