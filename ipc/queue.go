package ipc

import (
	"sync"
	"sync/atomic"
)

// serialQueue runs jobs one at a time in push order on a goroutine of its
// own, so the pusher never waits for a job. The goroutine exits when the
// queue drains and is restarted by the next push.
type serialQueue struct {
	mu      sync.Mutex
	jobs    []func()
	running bool
}

func (q *serialQueue) push(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// queuedListeners delivers values to listeners from a serialQueue.
// A listener only sees values pushed after it was added.
type queuedListeners[T any] struct {
	q     serialQueue
	items listeners[T]
}

// add registers fn. first, when set, runs on the queue before fn sees any
// value, unless the subscription is closed by then.
func (l *queuedListeners[T]) add(fn func(T), first func() T) *Subscription {
	sub := &Subscription{}
	var ready atomic.Bool
	l.items.add(func(v T) {
		if ready.Load() {
			fn(v)
		}
	}, sub, nil)
	l.q.push(func() {
		if first != nil && !sub.isClosed() {
			fn(first())
		}
		ready.Store(true)
	})
	return sub
}

// publish queues v for every listener registered at the time of the call.
func (l *queuedListeners[T]) publish(v T) {
	l.q.push(func() { l.items.emit(v) })
}
