package timeline

import (
	"container/heap"
	"slices"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Callback is a due observer invocation returned by [Observers.Advance].
type Callback struct {
	// At is the timeline time the callback is due at.
	At mediatime.Time

	fn  func()
	pfn func(mediatime.Time)
	now mediatime.Time
}

// Invoke runs the callback.
func (c Callback) Invoke() {
	if c.fn != nil {
		c.fn()
		return
	}
	if c.pfn != nil {
		c.pfn(c.now)
	}
}

// Fire invokes every callback in order.
func Fire(cbs []Callback) {
	for _, c := range cbs {
		c.Invoke()
	}
}

type periodic struct {
	interval mediatime.Time
	next     mediatime.Time
	fn       func(mediatime.Time)
}

// Observers tracks the boundary and periodic observers of one clock.
type Observers struct {
	nextID   audio.ObserverID
	seq      uint64
	bounds   boundaryHeap
	byID     map[audio.ObserverID]*boundary
	periodic map[audio.ObserverID]*periodic
}

// NewObservers returns an empty observer set.
func NewObservers() *Observers {
	return &Observers{
		byID:     make(map[audio.ObserverID]*boundary),
		periodic: make(map[audio.ObserverID]*periodic),
	}
}

func (o *Observers) allocID() audio.ObserverID {
	o.nextID++
	return o.nextID
}

// AddBoundary registers fn to fire once when the timeline first reaches the
// earliest of times. With no times the observer never fires.
func (o *Observers) AddBoundary(times []mediatime.Time, fn func()) audio.ObserverID {
	id := o.allocID()
	if len(times) == 0 || fn == nil {
		return id
	}
	at := times[0]
	for _, t := range times[1:] {
		at = mediatime.Min(at, t)
	}
	o.seq++
	b := &boundary{id: id, at: at, fn: fn, seq: o.seq}
	heap.Push(&o.bounds, b)
	o.byID[id] = b
	return id
}

// AddPeriodic registers fn to fire every interval of timeline progress,
// starting from now. A non-positive interval is rejected with a zero ID.
func (o *Observers) AddPeriodic(now, interval mediatime.Time, fn func(mediatime.Time)) audio.ObserverID {
	if interval.Sign() <= 0 || fn == nil {
		return 0
	}
	id := o.allocID()
	o.periodic[id] = &periodic{interval: interval, next: now.Add(interval), fn: fn}
	return id
}

// Remove cancels an observer. Unknown IDs are ignored.
func (o *Observers) Remove(id audio.ObserverID) {
	if b, ok := o.byID[id]; ok {
		b.removed = true
		delete(o.byID, id)
	}
	delete(o.periodic, id)
}

// Len returns the number of live observers.
func (o *Observers) Len() int {
	return len(o.byID) + len(o.periodic)
}

// Reposition restarts every periodic schedule from now. Call it whenever the
// timeline jumps rather than advances.
func (o *Observers) Reposition(now mediatime.Time) {
	for _, p := range o.periodic {
		p.next = now.Add(p.interval)
	}
}

// Advance collects every observer due at or before now, in timeline order.
// Boundary observers are removed; periodic observers are rescheduled.
func (o *Observers) Advance(now mediatime.Time) []Callback {
	var due []Callback
	for o.bounds.Len() > 0 {
		b := o.bounds[0]
		if b.removed {
			heap.Pop(&o.bounds)
			continue
		}
		if b.at.After(now) {
			break
		}
		heap.Pop(&o.bounds)
		delete(o.byID, b.id)
		due = append(due, Callback{At: b.at, fn: b.fn})
	}
	for _, p := range o.periodic {
		if p.next.After(now) {
			continue
		}
		due = append(due, Callback{At: p.next, pfn: p.fn, now: now})
		for !p.next.After(now) {
			p.next = p.next.Add(p.interval)
		}
	}
	// Boundaries were appended first, so a stable sort keeps them ahead of
	// periodic reports due at the same instant.
	slices.SortStableFunc(due, func(a, b Callback) int { return a.At.Compare(b.At) })
	return due
}
