package ipc

import "sync"

// Value holds a current value and notifies watchers on change. A new watcher
// receives the current value first.
//
// Watchers run on a goroutine owned by the Value, one at a time and in
// change order, so the writer is never held up by a slow watcher and a
// watcher may make requests of its own.
type Value[T comparable] struct {
	mu       sync.Mutex
	current  T
	watchers queuedListeners[T]
}

// NewValue returns a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Watch calls fn with the current value and then with every change.
func (v *Value[T]) Watch(fn func(T)) *Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	current := v.current
	return v.watchers.add(fn, func() T { return current })
}

// set stores next and notifies watchers when it differs from the current
// value. It reports whether the value changed.
func (v *Value[T]) set(next T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == next {
		return false
	}
	v.current = next
	v.watchers.publish(next)
	return true
}
