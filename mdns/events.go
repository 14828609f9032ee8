package mdns

import (
	"sync"

	"github.com/lanpeer/beacon/internal/message"
)

// eventChannelCapacity is the broadcast channel's per-subscriber buffer
// depth: bounded and lossy for slow subscribers.
const eventChannelCapacity = 100

// EventKind discriminates Event.
type EventKind int

// Discovered is emitted on A and SRV observations and on local registration
// (SRV form)
const Discovered EventKind = 0

// Event is the in-process notification delivered to Service.Events
// subscribers.
type Event struct {
	Kind   EventKind
	Record message.Record
}

// eventBus is a bounded, lossy multi-consumer fan-out modeling the Rust
// original's tokio::sync::broadcast channel (capacity 100): subscribers
// that fall behind miss events rather than blocking the publisher
// ( "Bounded buffers", §9 "Broadcast fan-out").
type eventBus struct {
	mu   sync.Mutex
	subs []chan Event
}

func newEventBus() *eventBus {
	return &eventBus{}
}

// Subscribe returns a new receive-only channel subscribing to future events.
func (b *eventBus) Subscribe() <-chan Event {
	ch := make(chan Event, eventChannelCapacity)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans out e to every subscriber, dropping it for any subscriber
// whose channel is currently full.
func (b *eventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
