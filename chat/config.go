package chat

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/mcp"
	"github.com/effective-security/gohitl/orchestrator"
	"github.com/effective-security/gohitl/pkg/llmfactory"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/store"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/redis/go-redis/v9"
)

// Config of the chat handler
type Config struct {
	// MaxSteps is the maximum number of model steps per request
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	// SystemPrompt is passed to the model on every step
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Model overrides the provider default model
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// ToolChoice is auto, required or none
	ToolChoice string `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	// ToolTimeout bounds each tool execution, as duration string
	ToolTimeout string `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	// ToolServers are connected for every request
	ToolServers []*mcp.Config `json:"tool_servers,omitempty" yaml:"tool_servers,omitempty"`
	// Store of the conversations, in memory if not set
	Store *StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`

	toolTimeout time.Duration
}

// StoreConfig specifies the conversation store
type StoreConfig struct {
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// TTL of a stored chat, as duration string
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// LoadConfig from file, environment variables in values are expanded
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		err := configloader.UnmarshalAndExpand(file, cfg)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values and parses the durations
func (c *Config) Validate() error {
	if c.MaxSteps < 0 {
		return errors.Newf("invalid max_steps: %d", c.MaxSteps)
	}

	switch llms.ToolChoice(strings.ToLower(c.ToolChoice)) {
	case "", llms.ToolChoiceAuto, llms.ToolChoiceRequired, llms.ToolChoiceNone:
	default:
		return errors.Newf("invalid tool_choice: %s", c.ToolChoice)
	}

	c.toolTimeout = 0
	if c.ToolTimeout != "" {
		d, err := time.ParseDuration(c.ToolTimeout)
		if err != nil {
			return errors.Wrapf(err, "invalid tool_timeout")
		}
		c.toolTimeout = d
	}

	names := map[string]bool{}
	for _, srv := range c.ToolServers {
		if srv == nil {
			return errors.New("invalid tool_servers: empty entry")
		}
		if err := srv.Validate(); err != nil {
			return err
		}
		if names[srv.Name] {
			return errors.Newf("duplicate tool server: %s", srv.Name)
		}
		names[srv.Name] = true
	}

	if c.Store != nil && c.Store.TTL != "" {
		if _, err := time.ParseDuration(c.Store.TTL); err != nil {
			return errors.Wrapf(err, "invalid store ttl")
		}
	}
	return nil
}

// Options returns the orchestrator options of the config
func (c *Config) Options() []orchestrator.Option {
	opts := []orchestrator.Option{
		orchestrator.WithMaxSteps(values.NumbersCoalesce(c.MaxSteps, orchestrator.DefaultMaxSteps)),
		orchestrator.WithToolChoice(llms.ToolChoice(strings.ToLower(c.ToolChoice))),
	}
	if c.SystemPrompt != "" {
		opts = append(opts, orchestrator.WithSystem(c.SystemPrompt))
	}
	if c.Model != "" {
		opts = append(opts, orchestrator.WithModel(c.Model))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, orchestrator.WithMaxTokens(c.MaxTokens))
	}
	if c.toolTimeout > 0 {
		opts = append(opts, orchestrator.WithToolTimeout(c.toolTimeout))
	}
	return opts
}

// NewStore returns the configured store
func NewStore(cfg *StoreConfig) (store.MessageStoreManager, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return store.NewMemoryStore(), nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis_url")
	}

	var ttl time.Duration
	if cfg.TTL != "" {
		if ttl, err = time.ParseDuration(cfg.TTL); err != nil {
			return nil, errors.Wrapf(err, "invalid store ttl")
		}
	}
	return store.NewRedisStore(redis.NewClient(options), values.StringsCoalesce(cfg.Prefix, "gohitl"), ttl), nil
}

// NewModel returns the configured model of the factory,
// the factory default is used when the config has no model
func NewModel(f llmfactory.Factory, cfg *Config) (llms.Model, error) {
	if cfg != nil && cfg.Model != "" {
		return f.ModelByName(cfg.Model)
	}
	return f.DefaultModel()
}
