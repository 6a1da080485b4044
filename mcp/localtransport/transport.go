// Package localtransport connects an MCP client to an MCP server
// running in the same process, without a network or pipes.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/metoro-io/mcp-golang/transport"
)

// Handler processes a raw JSON-RPC message and returns the reply,
// nil for notifications.
type Handler interface {
	HandleMessage(ctx context.Context, body []byte) (*transport.BaseJsonRpcMessage, error)
}

// Transport is the server side of the local transport.
// Each request gets a local ID so concurrent callers reusing
// the same JSON-RPC ID do not collide.
type Transport struct {
	lock           sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	pending map[transport.RequestId]chan *transport.BaseJsonRpcMessage
	counter atomic.Int64
}

var _ transport.Transport = (*Transport)(nil)
var _ Handler = (*Transport)(nil)

// New returns the server transport
func New() *Transport {
	return &Transport{
		pending: make(map[transport.RequestId]chan *transport.BaseJsonRpcMessage),
	}
}

// Start implements Transport.Start
func (t *Transport) Start(_ context.Context) error {
	return nil
}

// Send delivers a server reply to the waiting HandleMessage call.
// Server initiated notifications have no receiver and are dropped.
func (t *Transport) Send(_ context.Context, message *transport.BaseJsonRpcMessage) error {
	id, ok := replyID(message)
	if !ok {
		return nil
	}

	t.lock.RLock()
	ch := t.pending[id]
	t.lock.RUnlock()

	if ch == nil {
		return errors.Errorf("no pending request: %d", id)
	}
	select {
	case ch <- message:
		return nil
	default:
		return errors.Errorf("duplicate reply: %d", id)
	}
}

// Close implements Transport.Close
func (t *Transport) Close() error {
	t.lock.RLock()
	handler := t.closeHandler
	t.lock.RUnlock()

	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *Transport) SetCloseHandler(handler func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messageHandler = handler
}

type envelope struct {
	ID     *json.RawMessage `json:"id"`
	Method string           `json:"method"`
}

// HandleMessage passes a client request to the server and blocks until
// the reply is sent, or ctx is done.
func (t *Transport) HandleMessage(ctx context.Context, body []byte) (*transport.BaseJsonRpcMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "invalid message")
	}
	if env.Method == "" {
		return nil, errors.New("invalid message: method is required")
	}

	t.lock.RLock()
	handler := t.messageHandler
	t.lock.RUnlock()
	if handler == nil {
		return nil, errors.New("server is not connected")
	}

	if env.ID == nil {
		var notification transport.BaseJSONRPCNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			return nil, errors.Wrap(err, "invalid notification")
		}
		handler(ctx, transport.NewBaseMessageNotification(&notification))
		return nil, nil
	}

	var request transport.BaseJSONRPCRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, errors.Wrap(err, "invalid request")
	}

	callerID := request.Id
	localID := transport.RequestId(t.counter.Add(1))
	ch := make(chan *transport.BaseJsonRpcMessage, 1)

	t.lock.Lock()
	t.pending[localID] = ch
	t.lock.Unlock()
	defer func() {
		t.lock.Lock()
		delete(t.pending, localID)
		t.lock.Unlock()
	}()

	request.Id = localID
	handler(ctx, transport.NewBaseMessageRequest(&request))

	select {
	case reply := <-ch:
		setReplyID(reply, callerID)
		return reply, nil
	case <-ctx.Done():
		return nil, errors.WithMessagef(ctx.Err(), "request %s", request.Method)
	}
}

func replyID(message *transport.BaseJsonRpcMessage) (transport.RequestId, bool) {
	switch {
	case message == nil:
		return 0, false
	case message.JsonRpcResponse != nil:
		return message.JsonRpcResponse.Id, true
	case message.JsonRpcError != nil:
		return message.JsonRpcError.Id, true
	}
	return 0, false
}

func setReplyID(message *transport.BaseJsonRpcMessage, id transport.RequestId) {
	if message.JsonRpcResponse != nil {
		message.JsonRpcResponse.Id = id
	}
	if message.JsonRpcError != nil {
		message.JsonRpcError.Id = id
	}
}
