package mcp

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Transport types
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config describes a remote tool server
type Config struct {
	// Name of the server, used in logs and collision reports
	Name string `json:"name" yaml:"name"`
	// Transport is stdio or http, stdio is the default
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// Command to spawn for the stdio transport
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is a list of KEY=VALUE added to the process environment,
	// ${VAR} in values is expanded from the host environment
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// BaseURL of the http transport
	BaseURL  string            `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Endpoint string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// TransportType returns the configured transport, or the default
func (c *Config) TransportType() string {
	if c.Transport == "" {
		return TransportStdio
	}
	return strings.ToLower(c.Transport)
}

// Validate returns an error if the config can not be used to connect
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("mcp: server name is required")
	}
	switch c.TransportType() {
	case TransportStdio:
		if c.Command == "" {
			return errors.Newf("mcp: %s: command is required", c.Name)
		}
	case TransportHTTP:
		if c.BaseURL == "" {
			return errors.Newf("mcp: %s: base_url is required", c.Name)
		}
	default:
		return errors.Newf("mcp: %s: unsupported transport: %s", c.Name, c.Transport)
	}
	for _, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			return errors.Newf("mcp: %s: invalid env: %s", c.Name, kv)
		}
	}
	if err := validate.Struct(c); err != nil {
		return errors.Wrapf(err, "mcp: %s: invalid config", c.Name)
	}
	return nil
}
