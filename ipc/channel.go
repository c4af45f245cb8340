package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/transport"
)

// Message is one named message delivered to a listener.
type Message = transport.Message

// Handler receives messages for one channel name.
type Handler func(Message)

// Channel is the message channel adapter: the only type in this package that
// talks to a Transport.
//
// A single dispatch goroutine drains the transport and runs listeners in
// registration order, so listeners for one channel never run concurrently and
// see messages in arrival order. Listeners must not block waiting for another
// message on the same Channel; Bus subscribers and Value watchers run on
// their own goroutines and are free to.
type Channel struct {
	t   transport.Transport
	log common.Logger

	mu     sync.Mutex
	routes map[string]*listeners[Message]
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewChannel wraps t and starts dispatching its messages.
func NewChannel(t transport.Transport, log common.Logger) *Channel {
	if log == nil {
		log = common.NopLogger{}
	}
	c := &Channel{
		t:      t,
		log:    log,
		routes: make(map[string]*listeners[Message]),
		done:   make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *Channel) dispatch() {
	defer close(c.done)
	for msg := range c.t.Receive() {
		c.mu.Lock()
		route := c.routes[msg.Channel]
		c.mu.Unlock()
		if route == nil {
			c.log.Debug("no listener for %q", msg.Channel)
			continue
		}
		route.emit(msg)
	}
	c.log.Debug("transport closed, dispatch stopped")
}

// Send transmits v, JSON encoded, on channel. No reply is expected.
func (c *Channel) Send(channel string, v any) error {
	if c.isClosed() {
		return common.ErrClosed
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", channel, err)
	}
	return c.t.Send(channel, body)
}

// On registers h for every message on channel until the subscription is closed.
func (c *Channel) On(channel string, h Handler) *Subscription {
	sub := &Subscription{}
	c.register(channel, h, sub)
	return sub
}

// Once registers h for the next message on channel only. The listener is
// removed before h runs, so h is invoked at most once.
func (c *Channel) Once(channel string, h Handler) *Subscription {
	sub := &Subscription{}
	var fired atomic.Bool
	c.register(channel, func(msg Message) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		sub.Close()
		h(msg)
	}, sub)
	return sub
}

func (c *Channel) register(channel string, h Handler, sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	route, ok := c.routes[channel]
	if !ok {
		route = &listeners[Message]{}
		c.routes[channel] = route
	}
	route.add(h, sub, func(remaining int) {
		if remaining > 0 {
			return
		}
		c.mu.Lock()
		if c.routes[channel] == route && route.len() == 0 {
			delete(c.routes, channel)
		}
		c.mu.Unlock()
	})
}

// Listeners reports how many listeners are registered on channel.
func (c *Channel) Listeners(channel string) int {
	c.mu.Lock()
	route := c.routes[channel]
	c.mu.Unlock()
	if route == nil {
		return 0
	}
	return route.len()
}

// Invoke performs a transport-native request/response. args are sent as a
// JSON array.
func (c *Channel) Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, common.ErrClosed
	}
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", channel, err)
	}
	return c.t.Invoke(ctx, channel, body)
}

// Done is closed once the transport has stopped delivering messages.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close closes the transport and waits for dispatch to stop.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.t.Close()
		<-c.done
	})
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
