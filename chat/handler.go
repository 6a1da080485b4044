// Package chat handles a chat request end to end.
//
// For every request the handler connects the configured tool servers,
// merges their tools with the local providers, applies the user decisions
// on pending tool calls, runs the orchestrator and stores the conversation.
// Tool server connections live for the request only.
package chat

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/confirm"
	"github.com/effective-security/gohitl/mcp"
	"github.com/effective-security/gohitl/orchestrator"
	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/effective-security/gohitl/store"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "chat")

// Request is a chat request of the client
type Request struct {
	// ChatID identifies the conversation, a new one is assigned when empty
	ChatID   string               `json:"id,omitempty"`
	Messages []*chatmodel.Message `json:"messages"`
}

// Connector opens a tool server for a request
type Connector func(ctx context.Context, cfg *mcp.Config) (tools.Provider, error)

// ConnectMCP is the default Connector
func ConnectMCP(ctx context.Context, cfg *mcp.Config) (tools.Provider, error) {
	c, err := mcp.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves chat requests, it is safe for concurrent use
type Handler struct {
	model     llms.Model
	cfg       *Config
	locals    []tools.Provider
	approvals tools.Executors
	store     store.MessageStore
	callback  orchestrator.Callback
	connect   Connector
}

// Option configures the Handler
type Option func(*Handler)

// WithProviders adds local tool providers.
// Their tools replace remote tools with the same name.
func WithProviders(providers ...tools.Provider) Option {
	return func(h *Handler) {
		h.locals = append(h.locals, providers...)
	}
}

// WithApprovals registers the executors of tools that need a confirmation
func WithApprovals(executors tools.Executors) Option {
	return func(h *Handler) {
		if h.approvals == nil {
			h.approvals = make(tools.Executors)
		}
		for name, fn := range executors {
			h.approvals[name] = fn
		}
	}
}

// WithStore sets the conversation store
func WithStore(st store.MessageStore) Option {
	return func(h *Handler) {
		h.store = st
	}
}

// WithCallback sets the callback handler
func WithCallback(cb orchestrator.Callback) Option {
	return func(h *Handler) {
		h.callback = cb
	}
}

// WithConnector replaces the tool server connector
func WithConnector(c Connector) Option {
	return func(h *Handler) {
		h.connect = c
	}
}

// NewHandler returns a handler of requests to model
func NewHandler(model llms.Model, cfg *Config, opts ...Option) (*Handler, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if cfg == nil {
		cfg = new(Config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		model:   model,
		cfg:     cfg,
		connect: ConnectMCP,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		st, err := NewStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		h.store = st
	}
	return h, nil
}

// Handle serves one request and streams the chunks to sink.
// The returned Result holds the conversation to send back to the client,
// it is set also when an error is returned.
func (h *Handler) Handle(ctx context.Context, req *Request, sink orchestrator.Sink) (*orchestrator.Result, error) {
	if sink == nil {
		sink = orchestrator.Discard
	}
	if chatmodel.GetChatContext(ctx) == nil || req.ChatID != "" {
		ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(req.ChatID))
	}

	remotes, err := h.connectServers(ctx)
	defer closeAll(ctx, remotes)
	if err != nil {
		return h.fail(ctx, req.Messages, sink, err), err
	}

	catalog, err := h.catalog(ctx, remotes)
	if err != nil {
		return h.fail(ctx, req.Messages, sink, err), err
	}

	messages := h.resolve(ctx, req.Messages, catalog, sink)

	opts := append(h.cfg.Options(), orchestrator.WithCallback(h.callback))
	res, err := orchestrator.New(h.model, opts...).Run(ctx, &orchestrator.Request{
		Messages: messages,
		Catalog:  catalog,
	}, sink)

	h.save(ctx, res)
	return res, err
}

// connectServers opens the configured tool servers in order.
// On failure the servers opened so far are returned to be closed.
func (h *Handler) connectServers(ctx context.Context) ([]tools.Provider, error) {
	var list []tools.Provider
	for _, cfg := range h.cfg.ToolServers {
		p, err := h.connect(ctx, cfg)
		if err != nil {
			return list, errors.Mark(errors.WithMessagef(err, "tool server %s", cfg.Name), orchestrator.ErrProvider)
		}
		list = append(list, p)
	}
	return list, nil
}

// catalog merges the remote tools, then the local ones
func (h *Handler) catalog(ctx context.Context, remotes []tools.Provider) (tools.Catalog, error) {
	providers := make([]tools.Provider, 0, len(remotes)+len(h.locals))
	providers = append(providers, remotes...)
	providers = append(providers, h.locals...)

	sources := make([]tools.Source, 0, len(providers))
	for _, p := range providers {
		c, err := p.ListTools(ctx)
		if err != nil {
			return nil, errors.Mark(errors.WithMessagef(err, "tool server %s", p.Name()), orchestrator.ErrProvider)
		}
		sources = append(sources, tools.Source{Name: p.Name(), Catalog: c})
	}

	catalog, collisions := tools.Merge(sources...)
	logger.ContextKV(ctx, xlog.DEBUG,
		"tools", catalog.Names(),
		"collisions", len(collisions),
	)
	return catalog, nil
}

// resolve applies the decisions found in the last message
// and streams the results of the resolved invocations
func (h *Handler) resolve(ctx context.Context, messages []*chatmodel.Message, catalog tools.Catalog, sink orchestrator.Sink) []*chatmodel.Message {
	confirmSet := tools.RequiresConfirmation(catalog)
	messages, decisions := confirm.ExtractDecisions(messages, confirmSet)
	if len(decisions) == 0 {
		return messages
	}

	pending := confirm.FindPending(messages, confirmSet)
	var opts []confirm.Option
	if h.callback != nil {
		opts = append(opts, confirm.WithCallback(h.callback))
	}
	resolved, effects := confirm.Resolve(ctx, messages, pending, decisions, h.approvals, opts...)

	for _, p := range pending {
		inv := resolved[p.MessageIndex].Parts[p.PartIndex].ToolInvocation
		if inv == nil || inv.IsCall() {
			continue
		}
		chunk := &orchestrator.Chunk{Type: orchestrator.ChunkToolResult, Invocation: inv}
		if err := sink.Send(context.WithoutCancel(ctx), chunk); err != nil {
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "send_failed",
				"err", err.Error(),
			)
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "resolved",
		"pending", len(pending),
		"decisions", len(decisions),
		"executed", len(effects),
	)
	return resolved
}

func (h *Handler) fail(ctx context.Context, messages []*chatmodel.Message, sink orchestrator.Sink, err error) *orchestrator.Result {
	logger.ContextKV(ctx, xlog.ERROR,
		"status", "request_failed",
		"err", err.Error(),
	)

	res := &orchestrator.Result{
		State:    orchestrator.StateError,
		Messages: messages,
	}
	sctx := context.WithoutCancel(ctx)
	_ = sink.Send(sctx, &orchestrator.Chunk{Type: orchestrator.ChunkError, Error: err.Error()})
	_ = sink.Send(sctx, &orchestrator.Chunk{Type: orchestrator.ChunkFinish, State: res.State})

	if h.callback != nil {
		h.callback.OnRunEnd(ctx, res, err)
	}
	return res
}

// save stores the conversation, also after a failed run
func (h *Handler) save(ctx context.Context, res *orchestrator.Result) {
	if h.store == nil || res == nil {
		return
	}
	err := h.store.Save(context.WithoutCancel(ctx), res.Messages, res.State.String())
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "save",
			"err", err.Error(),
		)
	}
}

func closeAll(ctx context.Context, providers []tools.Provider) {
	for _, p := range providers {
		if err := p.Close(); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"reason", "close",
				"server", p.Name(),
				"err", err.Error(),
			)
		}
	}
}
