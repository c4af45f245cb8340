package ipc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/hostbridge/common"
)

// Event is one host broadcast, tagged with its arrival order.
type Event struct {
	Channel  string
	Seq      uint64
	Received time.Time
}

// Bus republishes a fixed set of host broadcasts as a single stream.
//
// Subscribers run one at a time on a goroutine owned by the bus, in
// subscription order, so every subscriber sees every event in the order the
// host pushed them. The channel's dispatch goroutine never waits on a
// subscriber, so a subscriber may make requests of its own.
type Bus struct {
	names  []string
	seq    atomic.Uint64
	subs   queuedListeners[Event]
	now    func() time.Time
	closed atomic.Bool

	closeOnce sync.Once
	upstream  []*Subscription
}

// NewBus subscribes to names on ch. With no names it follows the update
// lifecycle channels.
func NewBus(ch *Channel, names ...string) *Bus {
	if len(names) == 0 {
		names = common.UpdateChannels
	}
	b := &Bus{now: time.Now}
	for _, name := range names {
		name := name
		if common.StringInSlice(name, b.names) {
			continue
		}
		b.names = append(b.names, name)
		b.upstream = append(b.upstream, ch.On(name, func(Message) {
			b.publish(name)
		}))
	}
	return b
}

func (b *Bus) publish(name string) {
	b.subs.publish(Event{
		Channel:  name,
		Seq:      b.seq.Add(1),
		Received: b.now(),
	})
}

// Subscribe delivers every later event to fn until the subscription is
// closed. Closing one subscription never affects another.
func (b *Bus) Subscribe(fn func(Event)) *Subscription {
	return b.subs.add(func(e Event) {
		if !b.closed.Load() {
			fn(e)
		}
	}, nil)
}

// Names returns the broadcast names the bus follows.
func (b *Bus) Names() []string {
	return append([]string(nil), b.names...)
}

// Close detaches the bus from its channel. Subscribers receive nothing more.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		for _, sub := range b.upstream {
			sub.Close()
		}
	})
}
