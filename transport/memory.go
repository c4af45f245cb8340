package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yllada/hostbridge/common"
)

// Memory is one end of an in-process transport pair.
type Memory struct {
	peer *Memory
	box  *mailbox

	mu     sync.RWMutex
	invoke InvokeFunc
	closed bool
}

// Pipe returns two connected in-memory ends. Messages sent on one end are
// received on the other in send order.
func Pipe() (ui *Memory, host *Memory) {
	ui = &Memory{box: newMailbox()}
	host = &Memory{box: newMailbox()}
	ui.peer = host
	host.peer = ui
	return ui, host
}

// Send delivers body to the peer's Receive channel.
func (m *Memory) Send(channel string, body json.RawMessage) error {
	if m.isClosed() {
		return common.ErrClosed
	}
	if !m.peer.box.push(Message{Channel: channel, Body: append(json.RawMessage(nil), body...)}) {
		return common.ErrClosed
	}
	return nil
}

// Receive returns inbound messages.
func (m *Memory) Receive() <-chan Message {
	return m.box.out
}

// ServeInvoke installs the handler answering the peer's invokes.
func (m *Memory) ServeInvoke(fn InvokeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoke = fn
}

// Invoke calls the peer's invoke handler. Handler errors cross the pipe as
// RemoteError, the same as on a wire transport.
func (m *Memory) Invoke(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
	if m.isClosed() {
		return nil, common.ErrClosed
	}
	m.peer.mu.RLock()
	fn, closed := m.peer.invoke, m.peer.closed
	m.peer.mu.RUnlock()
	if closed {
		return nil, common.ErrClosed
	}
	if fn == nil {
		return nil, common.ErrInvokeUnsupported
	}

	type result struct {
		body json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn(ctx, channel, args)
		done <- result{body, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &RemoteError{Payload: ErrorPayload(r.err)}
		}
		return r.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes this end. The peer keeps running but its sends fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.box.close()
	m.peer.box.close()
	return nil
}

func (m *Memory) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
