// Package mcp adapts remote MCP tool servers to tool providers.
//
// A Client is opened per request, its tools are listed once and
// executed by name on the server. The connection is released by Close.
package mcp

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/mcp/localtransport"
	"github.com/effective-security/gohitl/pkg/schema"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
	mcpgolang "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport"
	mcphttp "github.com/metoro-io/mcp-golang/transport/http"
	"github.com/metoro-io/mcp-golang/transport/stdio"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "mcp")

// maxPages bounds tool list pagination of a misbehaving server
const maxPages = 100

type toolClient interface {
	ListTools(ctx context.Context, cursor *string) (*mcpgolang.ToolsResponse, error)
	CallTool(ctx context.Context, name string, arguments any) (*mcpgolang.ToolResponse, error)
}

// Client is a connected remote tool server
type Client struct {
	name    string
	client  toolClient
	closers []func() error

	once     sync.Once
	closeErr error
}

var _ tools.Provider = (*Client)(nil)

// Connect starts the transport described by cfg and initializes the session
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.TransportType() {
	case TransportHTTP:
		return connectHTTP(ctx, cfg)
	default:
		return connectStdio(ctx, cfg)
	}
}

// ConnectLocal connects to a server running in the same process
func ConnectLocal(ctx context.Context, name string, h localtransport.Handler) (*Client, error) {
	tr := localtransport.NewClientTransport(h)
	return initialize(ctx, name, tr, tr.Close)
}

func connectHTTP(ctx context.Context, cfg *Config) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/mcp"
	}
	tr := mcphttp.NewHTTPClientTransport(endpoint).WithBaseURL(cfg.BaseURL)
	for k, v := range cfg.Headers {
		tr = tr.WithHeader(k, v)
	}
	return initialize(ctx, cfg.Name, tr, tr.Close)
}

func connectStdio(ctx context.Context, cfg *Config) (*Client, error) {
	// the process outlives Connect, it is stopped by Close
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cmd := exec.CommandContext(procCtx, cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for _, kv := range cfg.Env {
		cmd.Env = append(cmd.Env, os.ExpandEnv(kv))
	}
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "mcp: %s: stdin", cfg.Name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "mcp: %s: stdout", cfg.Name)
	}
	if err = cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "mcp: %s: failed to start %s", cfg.Name, cfg.Command)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "started",
		"server", cfg.Name,
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)

	tr := stdio.NewStdioServerTransportWithIO(stdout, stdin)
	stop := func() error {
		_ = tr.Close()
		_ = stdin.Close()
		cancel()
		// the process is killed by cancel
		_ = cmd.Wait()
		return nil
	}
	return initialize(ctx, cfg.Name, tr, stop)
}

func initialize(ctx context.Context, name string, tr transport.Transport, closer func() error) (*Client, error) {
	client := mcpgolang.NewClient(tr)
	if _, err := client.Initialize(ctx); err != nil {
		_ = closer()
		return nil, errors.WithMessagef(err, "mcp: %s: failed to initialize", name)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connected",
		"server", name,
	)

	return &Client{
		name:    name,
		client:  client,
		closers: []func() error{closer},
	}, nil
}

// Name returns the server name
func (c *Client) Name() string {
	return c.name
}

// ListTools returns the tools advertised by the server.
// Every tool is auto-executable, its calls are forwarded to the server.
func (c *Client) ListTools(ctx context.Context) (tools.Catalog, error) {
	catalog := make(tools.Catalog)

	var cursor *string
	for page := 0; page < maxPages; page++ {
		res, err := c.client.ListTools(ctx, cursor)
		if err != nil {
			return nil, errors.WithMessagef(err, "mcp: %s: failed to list tools", c.name)
		}

		for _, t := range res.Tools {
			params, err := schema.FromAny(t.InputSchema)
			if err != nil {
				logger.ContextKV(ctx, xlog.WARNING,
					"reason", "invalid_schema",
					"server", c.name,
					"tool", t.Name,
					"err", err.Error(),
				)
				continue
			}
			def := &tools.Definition{
				Name:       t.Name,
				Parameters: params,
				Execute:    c.executor(t.Name),
			}
			if t.Description != nil {
				def.Description = *t.Description
			}
			catalog[t.Name] = def
		}

		if res.NextCursor == nil || *res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"server", c.name,
		"tools", catalog.Names(),
	)
	return catalog, nil
}

func (c *Client) executor(name string) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if args == nil {
			args = map[string]any{}
		}
		res, err := c.client.CallTool(ctx, name, args)
		if err != nil {
			return nil, errors.WithMessagef(err, "mcp: %s", c.name)
		}
		return ResponseText(res), nil
	}
}

// ResponseText joins the text contents of a tool response
func ResponseText(res *mcpgolang.ToolResponse) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, content := range res.Content {
		if content != nil && content.TextContent != nil {
			parts = append(parts, content.TextContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close releases the connection, it is safe to call more than once
func (c *Client) Close() error {
	c.once.Do(func() {
		var err error
		for i := len(c.closers) - 1; i >= 0; i-- {
			err = errors.CombineErrors(err, c.closers[i]())
		}
		c.closeErr = err
		logger.KV(xlog.DEBUG,
			"status", "closed",
			"server", c.name,
		)
	})
	return c.closeErr
}
