package pipeline

import (
	"sync"
	"time"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// Broadcaster fans StatusEvents out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event. Events are
// observability only, the durable record lives in the run's StageResults.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan types.StatusEvent
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscribers get a buffered
// channel of the given capacity.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[int]chan types.StatusEvent),
		buffer: buffer,
	}
}

// Subscribe registers a new observer. The returned cancel func must be
// called when the observer is done; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan types.StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan types.StatusEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan types.StatusEvent, b.buffer)
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

// Publish delivers the event to every subscriber that has buffer room.
func (b *Broadcaster) Publish(ev types.StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, skip
			logging.EventsDebug("[Broadcaster] dropped event run=%s stage=%s for slow subscriber %d", ev.RunID, ev.Stage, id)
		}
	}
}

// Close closes every subscriber channel and rejects future publishes.
func (b *Broadcaster) Close() {
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
