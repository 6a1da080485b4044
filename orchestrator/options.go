package orchestrator

import (
	"time"

	"github.com/effective-security/gohitl/pkg/llms"
)

const (
	// DefaultMaxSteps is the step bound when none is configured
	DefaultMaxSteps = 10
	// DefaultToolTimeout bounds a single tool execution
	DefaultToolTimeout = 30 * time.Second
)

// Config of the orchestrator
type Config struct {
	// MaxSteps is the maximum number of model steps in a run
	MaxSteps int
	// ToolTimeout bounds each tool execution, 0 means no timeout
	ToolTimeout time.Duration

	// System prompt passed to the model
	System string
	// Model overrides the provider default model
	Model       string
	MaxTokens   int
	Temperature float64
	ToolChoice  llms.ToolChoice

	Callback Callback
}

// Option is a function that modifies Config
type Option func(*Config)

// NewConfig returns Config with defaults applied
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxSteps:    DefaultMaxSteps,
		ToolTimeout: DefaultToolTimeout,
		ToolChoice:  llms.ToolChoiceAuto,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithMaxSteps sets the step bound, values below 1 are ignored
func WithMaxSteps(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxSteps = n
		}
	}
}

// WithToolTimeout sets the tool execution timeout
func WithToolTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ToolTimeout = d
	}
}

// WithSystem sets the system prompt
func WithSystem(prompt string) Option {
	return func(c *Config) {
		c.System = prompt
	}
}

// WithModel sets the model name
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithMaxTokens sets the maximum number of tokens per step
func WithMaxTokens(n int) Option {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithToolChoice sets the tool choice, empty value is ignored
func WithToolChoice(choice llms.ToolChoice) Option {
	return func(c *Config) {
		if choice != "" {
			c.ToolChoice = choice
		}
	}
}

// WithCallback sets the callback handler
func WithCallback(cb Callback) Option {
	return func(c *Config) {
		c.Callback = cb
	}
}
