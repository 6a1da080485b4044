package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/metoro-io/mcp-golang/transport"
)

// ClientTransport is the client side of the local transport.
// Send hands the message to the Handler and delivers its reply
// before returning.
type ClientTransport struct {
	handler Handler

	lock           sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
}

var _ transport.Transport = (*ClientTransport)(nil)

// NewClientTransport returns a client transport to h
func NewClientTransport(h Handler) *ClientTransport {
	return &ClientTransport{
		handler: h,
	}
}

// Start implements Transport.Start
func (t *ClientTransport) Start(_ context.Context) error {
	return nil
}

// Send implements Transport.Send
func (t *ClientTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	reply, err := t.handler.HandleMessage(ctx, body)
	if err != nil {
		t.lock.RLock()
		onError := t.errorHandler
		t.lock.RUnlock()
		if onError != nil {
			onError(err)
		}
		return err
	}
	if reply == nil {
		return nil
	}

	t.lock.RLock()
	handler := t.messageHandler
	t.lock.RUnlock()
	if handler != nil {
		handler(ctx, reply)
	}
	return nil
}

// Close implements Transport.Close
func (t *ClientTransport) Close() error {
	t.lock.RLock()
	handler := t.closeHandler
	t.lock.RUnlock()

	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *ClientTransport) SetCloseHandler(handler func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *ClientTransport) SetErrorHandler(handler func(error)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *ClientTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messageHandler = handler
}
