package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/transport"
)

// RemoteError is the error a host put in a response envelope, kept verbatim.
type RemoteError = transport.RemoteError

// ErrAbandoned settles a request whose caller stopped waiting.
var ErrAbandoned = errors.New("request abandoned")

// Request is the envelope sent for a correlated request.
type Request struct {
	CorrelationID string          `json:"correlationId"`
	Value         json.RawMessage `json:"value"`
}

// Response is the envelope the host sends back on the channel named by the
// correlation id. An absent or null Error means success.
type Response struct {
	CorrelationID string          `json:"correlationId"`
	Value         json.RawMessage `json:"value,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
}

// Failed reports whether the response carries an error. Falsy error values
// (null, false, 0 and the empty string) count as no error.
func (r Response) Failed() bool {
	raw := bytes.TrimSpace(r.Error)
	switch string(raw) {
	case "", "null", "false", `""`:
		return false
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil && n == 0 {
		return false
	}
	return true
}

// Correlator pairs requests sent over a Channel with their replies.
//
// Each request gets a fresh correlation id and a one-shot listener on the
// channel of that name, armed before the request is transmitted. Replies are
// matched by id only, so concurrent requests settle in whatever order the
// host answers them.
type Correlator struct {
	ch      *Channel
	log     common.Logger
	timeout time.Duration
	newID   func() string

	mu      sync.Mutex
	pending map[string]*Future
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithDefaultTimeout bounds every request that does not set its own timeout.
// Zero, the default, waits for a reply indefinitely.
func WithDefaultTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) { c.timeout = d }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) CorrelatorOption {
	return func(c *Correlator) { c.newID = fn }
}

// WithCorrelatorLogger sets the logger.
func WithCorrelatorLogger(log common.Logger) CorrelatorOption {
	return func(c *Correlator) { c.log = log }
}

// RequestOption configures one request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
}

// WithTimeout bounds this request, overriding the correlator default.
// Zero waits indefinitely.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// NewCorrelator creates a correlator on ch. When ch stops delivering,
// every pending request settles with common.ErrClosed.
func NewCorrelator(ch *Channel, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		ch:      ch,
		log:     common.NopLogger{},
		newID:   common.NewCorrelationID,
		pending: make(map[string]*Future),
	}
	for _, opt := range opts {
		opt(c)
	}
	go func() {
		<-ch.Done()
		c.failAll(common.ErrClosed)
	}()
	return c
}

// Send transmits payload on channel and returns the pending result.
func (c *Correlator) Send(channel string, payload any, opts ...RequestOption) (*Future, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", channel, err)
	}

	o := requestOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	id := c.newID()
	f := newFuture(id, channel)

	c.mu.Lock()
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("correlation id %s already in flight", id)
	}
	c.pending[id] = f
	c.mu.Unlock()

	sub := c.ch.Once(id, func(msg Message) {
		c.onReply(f, msg)
	})
	disarm := func() {
		sub.Close()
		c.forget(id)
	}
	f.mu.Lock()
	f.disarm = disarm
	f.mu.Unlock()
	if _, settled, _ := f.Result(); settled {
		// failAll may have raced with arming.
		disarm()
	}

	if o.timeout > 0 {
		f.mu.Lock()
		f.timer = time.AfterFunc(o.timeout, func() {
			// Disarm before settling so waiters see no pending entry.
			disarm()
			if f.settle(nil, fmt.Errorf("%w: %s after %v", common.ErrTimeout, channel, o.timeout)) {
				c.log.Warn("request %s on %s timed out after %v", f.ID(), f.Channel(), o.timeout)
			}
		})
		f.mu.Unlock()
	}

	if err := c.ch.Send(channel, Request{CorrelationID: id, Value: value}); err != nil {
		f.Cancel(err)
		return nil, fmt.Errorf("send %s: %w", channel, err)
	}
	c.log.Debug("request %s sent on %s", f.ID(), f.Channel())
	return f, nil
}

// Request sends payload on channel and waits for the reply, decoding its
// value into out when out is non-nil.
//
// A reply carrying an error returns a *RemoteError holding the host's error
// value unchanged. When ctx is done first the request is abandoned and
// ctx.Err() is returned.
func (c *Correlator) Request(ctx context.Context, channel string, payload, out any, opts ...RequestOption) error {
	f, err := c.Send(channel, payload, opts...)
	if err != nil {
		return err
	}

	value, err := c.await(ctx, f)
	if err != nil {
		return err
	}
	if out != nil && len(value) > 0 {
		if err := json.Unmarshal(value, out); err != nil {
			return fmt.Errorf("decode %s reply: %w", channel, err)
		}
	}
	return nil
}

// await waits for f. When ctx ends first the request is abandoned, unless
// the reply won the race, in which case the reply is returned.
func (c *Correlator) await(ctx context.Context, f *Future) (json.RawMessage, error) {
	value, err := f.Wait(ctx)
	ctxErr := ctx.Err()
	if err == nil || ctxErr == nil || !errors.Is(err, ctxErr) {
		return value, err
	}
	f.Cancel(fmt.Errorf("%w: %v", ErrAbandoned, ctxErr))
	value, _, err = f.Result()
	if errors.Is(err, ErrAbandoned) {
		return nil, ctxErr
	}
	return value, err
}

// Invoke uses the transport's native request/response instead of
// correlation ids.
func (c *Correlator) Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error) {
	return c.ch.Invoke(ctx, channel, args...)
}

// Pending returns the number of requests awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) onReply(f *Future, msg Message) {
	c.forget(f.id)

	var resp Response
	if err := json.Unmarshal(msg.Body, &resp); err != nil {
		f.settle(nil, fmt.Errorf("malformed reply to %s: %w", f.id, err))
		return
	}
	if resp.CorrelationID != "" && resp.CorrelationID != f.id {
		f.settle(nil, fmt.Errorf("reply on %s carries correlation id %s", f.id, resp.CorrelationID))
		return
	}
	if resp.Failed() {
		f.settle(nil, &RemoteError{Payload: resp.Error})
		return
	}
	f.settle(resp.Value, nil)
}

func (c *Correlator) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Correlator) failAll(err error) {
	c.mu.Lock()
	pending := make([]*Future, 0, len(c.pending))
	for _, f := range c.pending {
		pending = append(pending, f)
	}
	c.mu.Unlock()

	for _, f := range pending {
		f.Cancel(err)
	}
}
