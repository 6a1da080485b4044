package llms

import (
	"github.com/invopop/jsonschema"
)

// CallOption is a function that configures a CallOptions.
type CallOption func(*CallOptions)

// CallOptions is a set of options for calling models. Not all models support
// all options.
type CallOptions struct {
	// Model is the model to use.
	Model string
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int
	// Temperature is the temperature for sampling, between 0 and 1.
	Temperature float64
	// System is the system prompt.
	System string

	// Tools is a list of tools the model may call.
	Tools []Tool
	// ToolChoice is one of ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone.
	ToolChoice ToolChoice
}

// Tool is a tool that can be used by the model.
type Tool struct {
	// Type is the type of the tool.
	Type string `json:"type"`
	// Function is the function to call.
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition is a definition of a function that can be called by the model.
type FunctionDefinition struct {
	// Name is the name of the function.
	Name string `json:"name"`
	// Description is a description of the function.
	Description string `json:"description"`
	// Parameters is the schema of the function arguments.
	Parameters *jsonschema.Schema `json:"parameters,omitempty"`
}

// ToolChoice controls whether the model calls tools
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// NewCallOptions applies opts over the defaults
func NewCallOptions(opts ...CallOption) *CallOptions {
	o := &CallOptions{
		ToolChoice: ToolChoiceAuto,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithModel specifies which model name to use.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens specifies the max number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature specifies the model temperature, a hyperparameter that
// regulates the randomness, or creativity, of the AI's responses.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithSystem specifies the system prompt.
func WithSystem(prompt string) CallOption {
	return func(o *CallOptions) {
		o.System = prompt
	}
}

// WithToolChoice sets the choice of tool to use.
func WithToolChoice(choice ToolChoice) CallOption {
	return func(o *CallOptions) {
		if choice != "" {
			o.ToolChoice = choice
		}
	}
}

// WithTools will add an option to set the tools to use.
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}
