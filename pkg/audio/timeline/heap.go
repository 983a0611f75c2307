// Package timeline provides the bookkeeping shared by output devices: a
// PTS-ordered buffer queue and a set of boundary and periodic clock
// observers. Neither type is safe for concurrent use; devices guard them with
// their own lock and invoke the returned callbacks after releasing it.
package timeline

import (
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// boundary is a one-shot observer waiting for the timeline to reach at.
// removed marks lazily deleted entries still sitting in the heap.
type boundary struct {
	id      audio.ObserverID
	at      mediatime.Time
	fn      func()
	seq     uint64 // monotonic insertion order for FIFO tie-breaking
	removed bool
}

// boundaryHeap implements [container/heap.Interface] as a min-heap ordered by
// fire time (ascending), with FIFO tie-breaking on seq (ascending).
type boundaryHeap []*boundary

func (h boundaryHeap) Len() int { return len(h) }

// Less reports whether element i fires before element j.
// Earlier time wins; equal times fall back to insertion order.
func (h boundaryHeap) Less(i, j int) bool {
	if c := h[i].at.Compare(h[j].at); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h boundaryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *boundaryHeap) Push(x any) {
	*h = append(*h, x.(*boundary))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *boundaryHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return b
}
