package playback

import (
	"context"
	"log/slog"
	"sync"
)

// EventKind identifies a notification.
type EventKind int

const (
	// ItemChanged reports a new head item, or none when the queue emptied.
	ItemChanged EventKind = iota + 1

	// RateChanged reports a switch between playing and halted.
	RateChanged

	// OffsetChanged is the periodic position report for the head item.
	OffsetChanged
)

// String returns the wire name of k.
func (k EventKind) String() string {
	switch k {
	case ItemChanged:
		return "item_changed"
	case RateChanged:
		return "rate_changed"
	case OffsetChanged:
		return "offset_changed"
	default:
		return "unknown"
	}
}

// Event is one notification. Fields irrelevant to Kind are zero.
type Event struct {
	Kind EventKind

	// Seq increases by one per emitted event.
	Seq uint64

	// Item is the new head for ItemChanged; nil when playback ran out.
	Item *ItemInfo

	// Playing is the new state for RateChanged.
	Playing bool

	// Percentage in [0, 1] and Seconds into the head item, for
	// OffsetChanged.
	Percentage float64
	Seconds    float64
}

// DefaultSubscriberBuffer is the channel capacity of a [Subscription].
const DefaultSubscriberBuffer = 64

// Subscription delivers events in emission order. Events are dropped, not
// queued, when C is full.
type Subscription struct {
	C <-chan Event

	b    *broadcaster
	id   uint64
	once sync.Once
}

// Close stops delivery and closes C. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s.id) })
}

// broadcaster fans events out to subscribers without ever blocking the
// scheduler loop.
type broadcaster struct {
	log     *slog.Logger
	metrics Metrics

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	seq    uint64
	closed bool
}

func newBroadcaster(log *slog.Logger, m Metrics) *broadcaster {
	return &broadcaster{
		log:     log,
		metrics: m,
		subs:    make(map[uint64]chan Event),
	}
}

func (b *broadcaster) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{C: ch, b: b, id: b.nextID}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = ch
	return sub
}

func (b *broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.metrics.RecordDroppedEvent(context.Background())
			b.log.Debug("playback: subscriber full, dropping event", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// close closes every subscription channel.
func (b *broadcaster) close() {
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
