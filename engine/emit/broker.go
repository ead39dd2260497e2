package emit

import "sync"

// DefaultSubscriberBuffer is the per-subscriber channel capacity used when
// NewBroker is given a non-positive size.
const DefaultSubscriberBuffer = 64

// Broker implements Emitter by broadcasting events to live subscribers.
//
// Each subscriber receives events on its own buffered channel in
// publication order. Delivery is best-effort: when a subscriber's buffer
// is full the event is dropped for that subscriber rather than blocking
// the engine, and the events that are delivered stay in order.
//
// Example usage:
//
//	broker := emit.NewBroker(0)
//	defer broker.Close()
//
//	events, cancel := broker.Subscribe()
//	defer cancel()
//	go func() {
//	    for ev := range events {
//	        render(ev)
//	    }
//	}()
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBroker creates a broker whose subscribers get channels of the given
// capacity. A non-positive capacity uses DefaultSubscriberBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Emit broadcasts the event to every current subscriber.
//
// Subscribers whose buffers are full miss this event; Emit never blocks.
func (b *Broker) Emit(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than stall the run.
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// a cancel function. Cancel is idempotent and closes the channel. After
// the broker is closed, Subscribe returns an already-closed channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SubscriberCount reports how many subscribers are registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and rejects further emissions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
