// Package virtual provides an [audio.Device] that renders into nothing.
//
// Time advances either manually through [Device.Advance], which makes the
// device fully deterministic for tests, or in real time when constructed with
// [WithRealtime]. The clock only moves while the rate is non-zero and queued
// audio covers the current position; a starved device halts the same way a
// hardware output would.
//
// Observer, ready, and auto-flush callbacks are invoked from the goroutine
// that advances the clock, after the device lock has been released.
package virtual

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/timeline"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

const (
	// DefaultLookahead is how much queued audio the device asks for before it
	// stops reporting readiness.
	DefaultLookahead = 2 * time.Second

	// DefaultStep is the granularity of [Device.Advance].
	DefaultStep = 10 * time.Millisecond
)

// Option configures a [Device] during construction.
type Option func(*Device)

// WithLookahead sets how much audio the device buffers ahead of the clock.
// Non-positive values are ignored.
func WithLookahead(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.lookahead = mediatime.FromDuration(d)
		}
	}
}

// WithStep sets the largest clock increment applied at once by
// [Device.Advance]. Observers fire with at most this much delay.
func WithStep(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.step = mediatime.FromDuration(d)
		}
	}
}

// WithRealtime makes [Device.Run] advance the clock with wall time, polling
// every tick.
func WithRealtime(tick time.Duration) Option {
	return func(dev *Device) {
		if tick > 0 {
			dev.tick = tick
		}
	}
}

// WithUnderrunAutoFlush makes a starved device discard its queue and invoke
// the auto-flush handler, the way some hardware outputs do.
func WithUnderrunAutoFlush(enabled bool) Option {
	return func(dev *Device) {
		dev.underrunFlush = enabled
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(dev *Device) {
		if l != nil {
			dev.log = l
		}
	}
}

// Device is a virtual output. All exported methods are safe for concurrent
// use.
type Device struct {
	log           *slog.Logger
	format        audio.Format
	scale         int32
	lookahead     mediatime.Time
	step          mediatime.Time
	tick          time.Duration
	underrunFlush bool

	mu        sync.Mutex
	now       mediatime.Time
	rate      float64
	queue     timeline.Queue
	obs       *timeline.Observers
	ready     func()
	autoFlush func(mediatime.Time)
	volume    float64
	starved   bool // an underrun was already reported for the current gap
	failFlush bool
	flushes   int
	played    int64
	carry     int64 // sub-frame wall nanoseconds in realtime mode

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a virtual device rendering format.
func New(format audio.Format, opts ...Option) *Device {
	d := &Device{
		log:       slog.Default(),
		format:    format,
		scale:     int32(format.SampleRate),
		lookahead: mediatime.FromDuration(DefaultLookahead),
		step:      mediatime.FromDuration(DefaultStep),
		obs:       timeline.NewObservers(),
		volume:    1,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.now = mediatime.New(0, d.scale)
	return d
}

// Format implements [audio.Renderer].
func (d *Device) Format() audio.Format { return d.format }

// CurrentTime implements [audio.Clock].
func (d *Device) CurrentTime() mediatime.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Rate implements [audio.Clock].
func (d *Device) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

// SetRate implements [audio.Clock].
func (d *Device) SetRate(rate float64, at mediatime.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = rate
	d.now = at.Convert(d.scale)
	d.starved = false
	d.obs.Reposition(d.now)
}

// AddBoundaryObserver implements [audio.Clock].
func (d *Device) AddBoundaryObserver(times []mediatime.Time, fn func()) audio.ObserverID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.obs.AddBoundary(times, fn)
}

// AddPeriodicObserver implements [audio.Clock].
func (d *Device) AddPeriodicObserver(interval mediatime.Time, fn func(mediatime.Time)) audio.ObserverID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.obs.AddPeriodic(d.now, interval, fn)
}

// RemoveObserver implements [audio.Clock].
func (d *Device) RemoveObserver(id audio.ObserverID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.obs.Remove(id)
}

// IsReadyForMoreData implements [audio.Renderer].
func (d *Device) IsReadyForMoreData() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked()
}

func (d *Device) readyLocked() bool {
	return d.queue.Ahead(d.now).Before(d.lookahead)
}

// Enqueue implements [audio.Renderer].
func (d *Device) Enqueue(b audio.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.Push(b)
	d.starved = false
}

// Flush implements [audio.Renderer].
func (d *Device) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
	n := d.queue.Clear()
	d.log.Debug("virtual: flush", "dropped", n)
}

// FlushFrom implements [audio.Renderer]. done runs on its own goroutine.
func (d *Device) FlushFrom(t mediatime.Time, done func(ok bool)) {
	d.mu.Lock()
	if d.failFlush {
		d.failFlush = false
		d.mu.Unlock()
		d.log.Debug("virtual: flush from refused", "at", t)
		go done(false)
		return
	}
	d.flushes++
	n := d.queue.TrimFrom(t)
	d.mu.Unlock()
	d.log.Debug("virtual: flush from", "at", t, "dropped", n)
	go done(true)
}

// RequestDataWhenReady implements [audio.Renderer].
func (d *Device) RequestDataWhenReady(fn func()) {
	d.mu.Lock()
	d.ready = fn
	ready := fn != nil && d.readyLocked()
	d.mu.Unlock()
	if ready {
		fn()
	}
}

// StopRequestingData implements [audio.Renderer].
func (d *Device) StopRequestingData() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = nil
}

// OnAutoFlush implements [audio.Renderer].
func (d *Device) OnAutoFlush(fn func(restartAt mediatime.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoFlush = fn
}

// SetVolume implements [audio.Renderer].
func (d *Device) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = min(max(v, 0), 1)
}

// Volume returns the last volume set.
func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Flushes returns how many Flush and successful FlushFrom calls the device
// has handled.
func (d *Device) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

// Buffered returns how much queued audio lies ahead of the clock.
func (d *Device) Buffered() mediatime.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Ahead(d.now)
}

// QueuedBuffers returns the number of buffers not yet fully played.
func (d *Device) QueuedBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// PlayedFrames returns the number of frames rendered so far.
func (d *Device) PlayedFrames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.played
}

// FailNextFlushFrom makes the next FlushFrom call report failure without
// touching the queue.
func (d *Device) FailNextFlushFrom() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFlush = true
}

// TriggerAutoFlush discards the queue and reports an auto-flush that should
// resume at restartAt. The handler runs on the calling goroutine.
func (d *Device) TriggerAutoFlush(restartAt mediatime.Time) {
	d.mu.Lock()
	d.queue.Clear()
	fn := d.autoFlush
	d.mu.Unlock()
	if fn != nil {
		fn(restartAt)
	}
}

// Advance moves the clock forward by up to dur of rendered audio, in steps no
// larger than the configured step. Due callbacks fire between steps on the
// calling goroutine.
func (d *Device) Advance(dur time.Duration) {
	remaining := mediatime.FromDuration(dur).Convert(d.scale)
	for remaining.Sign() > 0 {
		s := mediatime.Min(remaining, d.step)
		d.advance(s)
		remaining = remaining.Sub(s)
	}
}

// advance applies one clock step and fires the resulting callbacks in
// timeline order, then the auto-flush handler, then the ready callback.
func (d *Device) advance(s mediatime.Time) {
	d.mu.Lock()
	var (
		flushFn   func(mediatime.Time)
		restartAt mediatime.Time
	)
	if d.rate > 0 {
		moved := mediatime.Min(s, d.queue.Ahead(d.now))
		if moved.Sign() > 0 {
			d.now = d.now.Add(moved).Convert(d.scale)
			d.played += d.queue.Consume(d.now)
		} else if d.underrunFlush && d.ready != nil && !d.starved {
			d.starved = true
			d.queue.Clear()
			flushFn, restartAt = d.autoFlush, d.now
		}
	}
	due := d.obs.Advance(d.now)
	var readyFn func()
	if d.ready != nil && d.readyLocked() {
		readyFn = d.ready
	}
	d.mu.Unlock()

	timeline.Fire(due)
	if flushFn != nil {
		d.log.Warn("virtual: underrun, auto-flushing", "restart_at", restartAt)
		flushFn(restartAt)
	}
	if readyFn != nil {
		readyFn()
	}
}

// Run drives the clock with wall time when [WithRealtime] was given and
// otherwise just waits. It returns nil when ctx is cancelled or the device is
// closed.
func (d *Device) Run(ctx context.Context) error {
	if d.tick <= 0 {
		select {
		case <-ctx.Done():
		case <-d.done:
		}
		return nil
	}

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.done:
			return nil
		case now := <-ticker.C:
			d.advanceWall(now.Sub(last))
			last = now
		}
	}
}

// advanceWall converts elapsed wall time into whole frames, carrying the
// remainder into the next tick.
func (d *Device) advanceWall(elapsed time.Duration) {
	d.mu.Lock()
	ns := d.carry + elapsed.Nanoseconds()
	sr := int64(d.scale)
	frames := ns * sr / int64(time.Second)
	d.carry = ns - frames*int64(time.Second)/sr
	d.mu.Unlock()

	remaining := mediatime.New(frames, d.scale)
	for remaining.Sign() > 0 {
		s := mediatime.Min(remaining, d.step)
		d.advance(s)
		remaining = remaining.Sub(s)
	}
}

// Close stops [Device.Run] and drops queued audio. It is idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		d.queue.Clear()
		d.ready = nil
		d.mu.Unlock()
	})
	return nil
}
