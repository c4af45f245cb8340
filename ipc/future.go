package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Future is the pending result of one correlated request.
// It settles exactly once: with the reply value, with the host's error, or
// with a local error (timeout, abandonment, channel closed).
type Future struct {
	id      string
	channel string
	ch      chan struct{}

	once  sync.Once
	mu    sync.Mutex
	value json.RawMessage
	err   error
	timer *time.Timer

	disarm func()
}

func newFuture(id, channel string) *Future {
	return &Future{id: id, channel: channel, ch: make(chan struct{})}
}

// ID returns the correlation id of the request.
func (f *Future) ID() string { return f.id }

// Channel returns the channel name the request was sent on.
func (f *Future) Channel() string { return f.channel }

// settle completes the future. It reports whether this call won.
func (f *Future) settle(value json.RawMessage, err error) bool {
	won := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value = value
		f.err = err
		if f.timer != nil {
			f.timer.Stop()
		}
		f.mu.Unlock()
		close(f.ch)
		won = true
	})
	return won
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the future settles or ctx is done. A done ctx leaves the
// request pending; call Cancel to abandon it.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future) Result() (value json.RawMessage, ok bool, err error) {
	select {
	case <-f.ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, true, f.err
	default:
		return nil, false, nil
	}
}

// Cancel abandons the request: the reply listener is removed and the future
// settles with err. A reply arriving later is dropped. Cancel on a settled
// future does nothing.
func (f *Future) Cancel(err error) {
	if !f.settle(nil, err) {
		return
	}
	f.mu.Lock()
	disarm := f.disarm
	f.mu.Unlock()
	if disarm != nil {
		disarm()
	}
}
