package timeline

import (
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Queue holds enqueued buffers in PTS order.
type Queue struct {
	bufs []audio.Buffer
}

// Push appends b. Buffers must arrive in PTS order.
func (q *Queue) Push(b audio.Buffer) {
	q.bufs = append(q.bufs, b)
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int { return len(q.bufs) }

// Head returns the earliest queued buffer.
func (q *Queue) Head() (audio.Buffer, bool) {
	if len(q.bufs) == 0 {
		return audio.Buffer{}, false
	}
	return q.bufs[0], true
}

// PopHead removes the earliest buffer.
func (q *Queue) PopHead() {
	if len(q.bufs) == 0 {
		return
	}
	q.bufs[0] = audio.Buffer{}
	q.bufs = q.bufs[1:]
}

// Clear drops every buffer and returns how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.bufs)
	clear(q.bufs)
	q.bufs = q.bufs[:0]
	return n
}

// TrimFrom drops every buffer whose PTS is at or after t and returns how
// many were dropped.
func (q *Queue) TrimFrom(t mediatime.Time) int {
	keep := len(q.bufs)
	for keep > 0 && !q.bufs[keep-1].PTS.Before(t) {
		keep--
	}
	n := len(q.bufs) - keep
	clear(q.bufs[keep:])
	q.bufs = q.bufs[:keep]
	return n
}

// Consume drops every buffer that ends at or before now and returns the
// number of frames dropped.
func (q *Queue) Consume(now mediatime.Time) int64 {
	var frames int64
	for len(q.bufs) > 0 && !q.bufs[0].End().After(now) {
		frames += int64(q.bufs[0].Frames)
		q.PopHead()
	}
	return frames
}

// End returns the end time of the last queued buffer.
func (q *Queue) End() (mediatime.Time, bool) {
	if len(q.bufs) == 0 {
		return mediatime.Zero, false
	}
	return q.bufs[len(q.bufs)-1].End(), true
}

// Ahead returns how much queued audio lies after now.
func (q *Queue) Ahead(now mediatime.Time) mediatime.Time {
	end, ok := q.End()
	if !ok || !end.After(now) {
		return mediatime.Zero
	}
	return end.Sub(now)
}

// Covers reports whether some queued buffer contains now.
func (q *Queue) Covers(now mediatime.Time) bool {
	for _, b := range q.bufs {
		if b.PTS.After(now) {
			return false
		}
		if b.End().After(now) {
			return true
		}
	}
	return false
}
