// Package speaker provides an [audio.Device] that plays through the system
// sound card using github.com/faiface/beep/speaker.
//
// The clock is derived from frames actually handed to the sound card: it
// advances inside the speaker's streaming callback and halts when the queue
// runs dry. Observer, ready, and auto-flush callbacks are dispatched from the
// goroutine running [Device.Run], never from the audio thread.
package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/timeline"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

const (
	// DefaultBuffer is the sound card buffer length.
	DefaultBuffer = 100 * time.Millisecond

	// DefaultLookahead is how much queued audio the device asks for.
	DefaultLookahead = 2 * time.Second
)

// Option configures a [Device].
type Option func(*Device)

// WithBuffer sets the sound card buffer length. Smaller buffers lower the
// latency of seeks and rate changes at the risk of crackling.
func WithBuffer(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.buffer = d
		}
	}
}

// WithLookahead sets how much audio the device buffers ahead of the clock.
func WithLookahead(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.lookahead = mediatime.FromDuration(d)
		}
	}
}

// WithUnderrunAutoFlush makes a starved device discard its queue and invoke
// the auto-flush handler.
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

// Device plays through the default sound card. Only one Device may exist per
// process because the beep speaker is a global.
type Device struct {
	log           *slog.Logger
	format        audio.Format
	scale         int32
	buffer        time.Duration
	lookahead     mediatime.Time
	underrunFlush bool

	// vol is only touched under speaker.Lock.
	vol *effects.Volume

	mu        sync.Mutex
	now       mediatime.Time
	rate      float64
	queue     timeline.Queue
	obs       *timeline.Observers
	ready     func()
	autoFlush func(mediatime.Time)
	volume    float64
	starved   bool
	flushAt   *mediatime.Time // pending auto-flush restart position
	underruns int

	wake      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New initialises the sound card for format and starts streaming silence.
// format.Channels must be 1 or 2.
func New(format audio.Format, opts ...Option) (*Device, error) {
	d, err := newDevice(format, opts...)
	if err != nil {
		return nil, err
	}
	sr := beep.SampleRate(format.SampleRate)
	if err := speaker.Init(sr, sr.N(d.buffer)); err != nil {
		return nil, fmt.Errorf("speaker: init %d Hz: %w", format.SampleRate, err)
	}
	speaker.Play(d.vol)
	d.log.Info("speaker: output opened", "sample_rate", format.SampleRate, "channels", format.Channels, "buffer", d.buffer)
	return d, nil
}

// newDevice builds the device without touching the sound card.
func newDevice(format audio.Format, opts ...Option) (*Device, error) {
	if !format.Valid() || format.Channels > 2 {
		return nil, fmt.Errorf("speaker: unsupported format %d Hz x %d", format.SampleRate, format.Channels)
	}
	d := &Device{
		log:       slog.Default(),
		format:    format,
		scale:     int32(format.SampleRate),
		buffer:    DefaultBuffer,
		lookahead: mediatime.FromDuration(DefaultLookahead),
		obs:       timeline.NewObservers(),
		volume:    1,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.now = mediatime.New(0, d.scale)
	d.vol = &effects.Volume{Streamer: beep.StreamerFunc(d.stream), Base: 2}
	return d, nil
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
	d.flushAt = nil
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
	n := d.queue.Clear()
	d.flushAt = nil
	d.log.Debug("speaker: flush", "dropped", n)
}

// FlushFrom implements [audio.Renderer]. Audio already handed to the sound
// card is never recalled, so the flush always succeeds.
func (d *Device) FlushFrom(t mediatime.Time, done func(ok bool)) {
	d.mu.Lock()
	n := d.queue.TrimFrom(t)
	d.mu.Unlock()
	d.log.Debug("speaker: flush from", "at", t, "dropped", n)
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

// SetVolume implements [audio.Renderer]. The linear gain v is mapped onto
// the base-2 exponent used by [effects.Volume]; zero mutes.
func (d *Device) SetVolume(v float64) {
	v = min(max(v, 0), 1)
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()

	speaker.Lock()
	applyVolume(d.vol, v)
	speaker.Unlock()
}

func applyVolume(vol *effects.Volume, v float64) {
	vol.Silent = v == 0
	if v > 0 {
		vol.Volume = math.Log2(v)
	}
}

// Volume returns the last volume set.
func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Underruns returns how many times the device ran dry while playing.
func (d *Device) Underruns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.underruns
}

// stream is the beep streamer feeding the sound card. It always fills
// samples completely, padding with silence while halted or starved.
func (d *Device) stream(samples [][2]float64) (int, bool) {
	d.mu.Lock()
	filled := d.fillLocked(samples)
	for i := filled; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	if d.rate > 0 && filled < len(samples) && !d.starved {
		d.starved = true
		d.underruns++
		if d.underrunFlush && d.ready != nil {
			d.queue.Clear()
			at := d.now
			d.flushAt = &at
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return len(samples), true
}

// fillLocked copies queued audio covering the clock into samples and
// advances the clock by the frames copied.
func (d *Device) fillLocked(samples [][2]float64) int {
	if d.rate <= 0 {
		return 0
	}
	ch := d.format.Channels
	filled := 0
	for filled < len(samples) {
		d.queue.Consume(d.now)
		b, ok := d.queue.Head()
		if !ok {
			break
		}
		start := b.PTS.Convert(d.scale).Value
		pos := d.now.Value
		if pos < start {
			break
		}
		off := int(pos - start)
		n := min(b.Frames-off, len(samples)-filled)
		for i := range n {
			base := (off + i) * ch
			l := float64(b.Data[base])
			r := l
			if ch > 1 {
				r = float64(b.Data[base+1])
			}
			samples[filled+i] = [2]float64{l, r}
		}
		filled += n
		d.now = mediatime.New(pos+int64(n), d.scale)
	}
	return filled
}

// Run dispatches clock callbacks until ctx is cancelled or the device is
// closed.
func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.done:
			return nil
		case <-d.wake:
			d.dispatch()
		}
	}
}

// dispatch fires due observers, then a pending auto-flush, then the ready
// callback.
func (d *Device) dispatch() {
	d.mu.Lock()
	due := d.obs.Advance(d.now)
	var (
		flushFn   func(mediatime.Time)
		restartAt mediatime.Time
	)
	if d.flushAt != nil {
		flushFn, restartAt = d.autoFlush, *d.flushAt
		d.flushAt = nil
	}
	var readyFn func()
	if d.ready != nil && d.readyLocked() {
		readyFn = d.ready
	}
	d.mu.Unlock()

	timeline.Fire(due)
	if flushFn != nil {
		d.log.Warn("speaker: underrun, auto-flushing", "restart_at", restartAt)
		flushFn(restartAt)
	}
	if readyFn != nil {
		readyFn()
	}
}

// Close silences the output and stops [Device.Run]. It is idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		speaker.Clear()
		d.mu.Lock()
		d.queue.Clear()
		d.ready = nil
		d.mu.Unlock()
		d.log.Info("speaker: output closed")
	})
	return nil
}
