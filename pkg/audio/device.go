package audio

import (
	"context"

	"github.com/MrWong99/gapless/pkg/mediatime"
)

// ObserverID identifies a registered clock observer. The zero value is never
// returned by a registration and is safe to pass to RemoveObserver.
type ObserverID uint64

// Clock is a renderer-synchronised playback timeline.
//
// Observer callbacks are always invoked from the clock's own goroutine, never
// from inside the registering call, and never while the clock holds internal
// locks. Callers that own state must hand the callback off to their own
// execution context.
type Clock interface {
	// CurrentTime returns the timeline position.
	CurrentTime() mediatime.Time

	// Rate returns the current rate: 0 (halted) or 1 (playing).
	Rate() float64

	// SetRate changes the rate and pins the timeline so that CurrentTime
	// equals at at the moment of the change. This is the only way to
	// reposition the timeline.
	SetRate(rate float64, at mediatime.Time)

	// AddBoundaryObserver calls fn exactly once, the first time the timeline
	// reaches any of times while advancing.
	AddBoundaryObserver(times []mediatime.Time, fn func()) ObserverID

	// AddPeriodicObserver calls fn with the current time every interval of
	// timeline progress while the rate is non-zero. The schedule restarts
	// whenever SetRate repositions the timeline.
	AddPeriodicObserver(interval mediatime.Time, fn func(mediatime.Time)) ObserverID

	// RemoveObserver cancels a boundary or periodic observer. Removing an
	// unknown or already-fired observer is a no-op.
	RemoveObserver(id ObserverID)
}

// Renderer consumes timestamped buffers and plays them against its [Clock].
type Renderer interface {
	// Format is the fixed PCM format every enqueued buffer must use.
	Format() Format

	// IsReadyForMoreData reports whether the renderer wants more lookahead.
	IsReadyForMoreData() bool

	// Enqueue appends b to the renderer's queue. Buffers must be enqueued in
	// PTS order.
	Enqueue(b Buffer)

	// Flush discards every queued buffer.
	Flush()

	// FlushFrom discards queued buffers at or after t, keeping audio already
	// committed before it. done is invoked asynchronously with false when the
	// renderer could not perform the flush.
	FlushFrom(t mediatime.Time, done func(ok bool))

	// RequestDataWhenReady arms fn to be called whenever the renderer becomes
	// ready for more data. If it is ready already, fn is called before
	// RequestDataWhenReady returns.
	RequestDataWhenReady(fn func())

	// StopRequestingData disarms the callback installed by
	// RequestDataWhenReady.
	StopRequestingData()

	// OnAutoFlush installs fn to be called when the renderer discards its
	// queue on its own (e.g. device underrun). restartAt is the timeline
	// position playback should resume from.
	OnAutoFlush(fn func(restartAt mediatime.Time))

	// SetVolume sets the output gain in [0, 1].
	SetVolume(v float64)
}

// Device is an output that provides both halves of the playback contract.
type Device interface {
	Clock
	Renderer

	// Run drives the device until ctx is cancelled.
	Run(ctx context.Context) error

	// Close releases the output. It is idempotent.
	Close() error
}
