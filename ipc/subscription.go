package ipc

import (
	"sync"
	"sync/atomic"
)

// Subscription is a handle to one registered listener. Closing it removes
// that listener only.
type Subscription struct {
	once   sync.Once
	closed atomic.Bool
	cancel func()
}

// Close removes the listener. It is safe to call more than once and from
// inside the listener itself.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closed.Store(true)
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Subscription) isClosed() bool {
	return s.closed.Load()
}

type listener[T any] struct {
	id     uint64
	fn     func(T)
	active atomic.Bool
}

// listeners is an ordered set of independently removable callbacks.
type listeners[T any] struct {
	mu    sync.Mutex
	next  uint64
	items []*listener[T]
}

// add registers fn and fills sub so that closing it removes fn. onRemove,
// when set, runs after removal with the remaining count.
func (l *listeners[T]) add(fn func(T), sub *Subscription, onRemove func(remaining int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	entry := &listener[T]{id: l.next, fn: fn}
	entry.active.Store(true)
	l.items = append(l.items, entry)
	sub.cancel = func() {
		entry.active.Store(false)
		remaining := l.remove(entry.id)
		if onRemove != nil {
			onRemove(remaining)
		}
	}
}

func (l *listeners[T]) remove(id uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, entry := range l.items {
		if entry.id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			break
		}
	}
	return len(l.items)
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// emit calls every listener registered at the time of the call, in
// registration order, skipping any removed while emit is running.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := make([]*listener[T], len(l.items))
	copy(snapshot, l.items)
	l.mu.Unlock()

	for _, entry := range snapshot {
		if entry.active.Load() {
			entry.fn(v)
		}
	}
}
