// Package playback implements the gapless scheduler and the caller-facing
// player on top of an [audio.Device] and an [audio.Decoder].
//
// The [Scheduler] owns the live queue. One goroutine, started by
// [Scheduler.Run], executes every command and every device callback in FIFO
// order, so queue state needs no locks. Decoded buffers are stamped onto a
// single continuous device timeline; boundary observers at each item's end
// drive "now playing" notifications at the moment the item is heard to end,
// not when it finished decoding.
//
// The [Player] sits above the scheduler, keeps the playlist, and maps
// user actions such as next or seek onto scheduler commands.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// ErrClosed is returned by commands issued after [Scheduler.Run] has
// returned.
var ErrClosed = errors.New("playback: scheduler closed")

const (
	// DefaultPriming is how much audio is decoded synchronously before the
	// clock starts.
	DefaultPriming = 250 * time.Millisecond

	// DefaultReportInterval is the cadence of OffsetChanged notifications.
	DefaultReportInterval = 100 * time.Millisecond
)

// State is the coarse playback state.
type State int

const (
	// Stopped means the queue is empty.
	Stopped State = iota

	// Playing means the clock runs at rate 1.
	Playing

	// Paused means the queue is retained with the clock halted.
	Paused
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Status is a read-only view of the scheduler published after every
// committed change.
type Status struct {
	State    State
	Head     *ItemInfo
	QueueLen int
	Rate     float64
	Volume   float64

	// Position is how far into the head item playback is.
	Position mediatime.Time

	anchor mediatime.Time
}

// Snapshot is the full loop state, for diagnostics and tests.
type Snapshot struct {
	Cursor      int
	TimelineEnd mediatime.Time
	HeadStart   mediatime.Time
	Rate        float64
	Armed       bool
	Suspended   bool
	Items       []ItemInfo
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics installs an instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPriming sets the synchronous priming budget.
func WithPriming(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.priming = mediatime.FromDuration(d)
		}
	}
}

// WithReportInterval sets the OffsetChanged cadence.
func WithReportInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = mediatime.FromDuration(d)
		}
	}
}

// WithVolume sets the initial output volume.
func WithVolume(v float64) Option {
	return func(s *Scheduler) {
		s.volume = min(max(v, 0), 1)
	}
}

// Scheduler serialises all queue work onto one goroutine. Its exported
// methods are safe for concurrent use; commands return as soon as they are
// queued.
type Scheduler struct {
	log      *slog.Logger
	metrics  Metrics
	device   audio.Device
	dec      audio.Decoder
	format   audio.Format
	priming  mediatime.Time
	interval mediatime.Time

	ex      *executor
	events  *broadcaster
	status  atomic.Pointer[Status]
	stopped chan struct{}
	running atomic.Bool

	dataPending atomic.Bool   // a fill task is queued
	arming      atomic.Bool   // RequestDataWhenReady is in progress on the loop
	fillNow     atomic.Bool   // the renderer reported ready while arming
	flushGen    atomic.Uint64 // bumped on every full renderer flush

	// Everything below is owned by the loop goroutine.
	queue       []*QueueItem
	cursor      int
	timelineEnd mediatime.Time
	headStart   mediatime.Time
	rate        float64
	volume      float64
	anchor      mediatime.Time
	periodic    audio.ObserverID
	periodicTok uint64
	armed       bool
	suspended   bool
	deferred    []task
	lastHead    *QueueItem
}

// New creates a scheduler driving device with tracks decoded by dec. Call
// [Scheduler.Run] to start it.
func New(device audio.Device, dec audio.Decoder, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:      slog.Default(),
		metrics:  nopMetrics{},
		device:   device,
		dec:      dec,
		format:   device.Format(),
		priming:  mediatime.FromDuration(DefaultPriming),
		interval: mediatime.FromDuration(DefaultReportInterval),
		ex:       newExecutor(),
		stopped:  make(chan struct{}),
		volume:   1,
	}
	for _, o := range opts {
		o(s)
	}
	s.events = newBroadcaster(s.log, s.metrics)
	s.timelineEnd = s.zero()
	s.headStart = s.zero()
	s.status.Store(&Status{Volume: s.volume})

	device.SetVolume(s.volume)
	device.OnAutoFlush(func(restartAt mediatime.Time) {
		gen := s.flushGen.Load()
		s.ex.post(func() {
			// A queue rebuilt since the report already dropped that audio.
			if gen != s.flushGen.Load() {
				s.log.Debug("playback: stale auto-flush dropped", "restart_at", restartAt)
				return
			}
			s.autoflushPlayback(restartAt)
		})
	})
	return s
}

// ── Commands ────────────────────────────────────────────────────────────────

// Replace installs tracks as the new queue, starting the first at atOffset
// with the clock at rate. Offsets outside [0, duration) fold to zero.
func (s *Scheduler) Replace(tracks []audio.Track, atOffset mediatime.Time, rate float64) error {
	tracks = slices.Clone(tracks)
	return s.command(func() { s.replaceQueue(tracks, atOffset, rate) })
}

// Continue replaces the queue with tracks while keeping whatever leading items
// are already in flight, so an edit to the upcoming part of a playlist is
// inaudible.
func (s *Scheduler) Continue(tracks []audio.Track) error {
	tracks = slices.Clone(tracks)
	return s.command(func() { s.continuePlayback(tracks) })
}

// Pause halts the clock at its current position.
func (s *Scheduler) Pause() error { return s.command(s.pause) }

// Resume restarts the clock. It is a no-op on an empty queue.
func (s *Scheduler) Resume() error { return s.command(s.resume) }

// Stop empties the queue and halts the clock.
func (s *Scheduler) Stop() error {
	return s.command(func() { s.replaceQueue(nil, s.zero(), 0) })
}

// SetVolume sets the output gain, clamped to [0, 1].
func (s *Scheduler) SetVolume(v float64) error {
	return s.command(func() {
		s.volume = min(max(v, 0), 1)
		s.device.SetVolume(s.volume)
	})
}

// Subscribe returns a subscription delivering every following event. A
// buffer of zero or less uses [DefaultSubscriberBuffer].
func (s *Scheduler) Subscribe(buffer int) *Subscription {
	return s.events.subscribe(buffer)
}

// Status returns the last committed state with the head position read from
// the clock.
func (s *Scheduler) Status() Status {
	st := *s.status.Load()
	if st.Head != nil {
		pos := mediatime.Max(s.device.CurrentTime().Sub(st.anchor), mediatime.Zero)
		if d := st.Head.Track.Duration; d.Sign() > 0 {
			pos = mediatime.Min(pos, d)
		}
		st.Position = pos
	}
	return st
}

// Snapshot returns the loop state once every previously issued command has
// been applied.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.wait(ctx, func() {
		snap = Snapshot{
			Cursor:      s.cursor,
			TimelineEnd: s.timelineEnd,
			HeadStart:   s.headStart,
			Rate:        s.rate,
			Armed:       s.armed,
			Suspended:   s.suspended,
			Items:       make([]ItemInfo, len(s.queue)),
		}
		for i, it := range s.queue {
			snap.Items[i] = *it.info()
		}
	})
	return snap, err
}

// Sync returns once every previously issued command, and every callback
// already handed to the loop, has been applied.
func (s *Scheduler) Sync(ctx context.Context) error {
	return s.wait(ctx, func() {})
}

func (s *Scheduler) wait(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.ex.post(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) command(fn func()) error {
	if !s.ex.post(fn) {
		return ErrClosed
	}
	return nil
}

// ── Loop ────────────────────────────────────────────────────────────────────

// Run executes queued work until ctx is cancelled, then releases every item
// and closes all subscriptions. It must be called exactly once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("playback: scheduler already running")
	}
	defer close(s.stopped)
	defer s.shutdown()

	s.log.Info("playback: scheduler started", "format", s.format)
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, ok := s.ex.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.ex.notify:
			}
			continue
		}
		s.runTask(t)
	}
}

func (s *Scheduler) runTask(t task) {
	if s.suspended && !t.resume {
		s.deferred = append(s.deferred, t)
		return
	}
	t.fn()
	if !s.suspended && len(s.deferred) > 0 {
		s.ex.requeueFront(s.deferred)
		s.deferred = nil
	}
	s.publish()
}

func (s *Scheduler) shutdown() {
	s.ex.close()
	s.disarm()
	s.removePeriodic()
	for _, it := range s.queue {
		s.retire(it)
	}
	s.queue = nil
	s.device.Flush()
	s.events.close()
	s.log.Info("playback: scheduler stopped")
}

// publish stores the status read by [Scheduler.Status].
func (s *Scheduler) publish() {
	st := &Status{
		QueueLen: len(s.queue),
		Rate:     s.rate,
		Volume:   s.volume,
		anchor:   s.anchor,
	}
	switch {
	case len(s.queue) == 0:
		st.State = Stopped
	case s.rate > 0:
		st.State = Playing
	default:
		st.State = Paused
	}
	if len(s.queue) > 0 {
		st.Head = s.queue[0].info()
	}
	s.status.Store(st)
}

// ── Protocols (loop goroutine only) ────────────────────────────────────────

func (s *Scheduler) zero() mediatime.Time {
	return mediatime.New(0, int32(s.format.SampleRate))
}

func (s *Scheduler) newItem(t audio.Track, start mediatime.Time) *QueueItem {
	return newQueueItem(t, NewBufferProvider(s.dec, t, s.format, start, s.log, s.metrics))
}

// clampOffset folds offsets outside [0, duration) to zero. Tracks of unknown
// duration only reject negative offsets.
func (s *Scheduler) clampOffset(t audio.Track, off mediatime.Time) mediatime.Time {
	if off.Sign() < 0 {
		return s.zero()
	}
	if d := t.Duration; d.Sign() > 0 && !off.Before(d) {
		return s.zero()
	}
	return off.Convert(int32(s.format.SampleRate))
}

func (s *Scheduler) replaceQueue(tracks []audio.Track, atOffset mediatime.Time, rate float64) {
	s.disarm()
	s.flushGen.Add(1)
	s.device.Flush()
	s.removePeriodic()
	for _, it := range s.queue {
		s.retire(it)
	}

	s.queue = make([]*QueueItem, len(tracks))
	for i, t := range tracks {
		start := s.zero()
		if i == 0 {
			start = s.clampOffset(t, atOffset)
		}
		s.queue[i] = s.newItem(t, start)
	}
	s.cursor = 0
	s.timelineEnd = s.zero()
	s.headStart = s.zero()
	s.metrics.RecordQueueLength(context.Background(), len(s.queue))

	start := s.zero()
	if len(s.queue) > 0 {
		start = s.queue[0].startOffset
	}
	// Hold the clock at the new origin while priming so readiness is
	// measured against the position the new buffers start at.
	s.device.SetRate(0, start)

	if len(s.queue) > 0 || s.lastHead != nil {
		s.emitItemChanged()
	}
	if len(s.queue) > 0 {
		s.anchorPeriodic(s.zero())
	}

	s.log.Debug("playback: queue replaced", "items", len(s.queue), "offset", start, "rate", rate)
	s.provideMediaData(s.priming, true)
	// Only the primed audio may be queued when the clock starts; the
	// renderer's readiness fill in arm tops up behind it.
	s.setRate(rate, start)
	s.arm()
}

func (s *Scheduler) continuePlayback(tracks []audio.Track) {
	if len(s.queue) == 0 {
		s.replaceQueue(tracks, s.zero(), 1)
		return
	}

	m := 0
	for m < len(s.queue) && m < len(tracks) && s.queue[m].track.Same(tracks[m]) {
		m++
	}

	// The live queue is a prefix of the new one: nothing to flush.
	if m == len(s.queue) {
		if m == len(tracks) {
			return
		}
		for _, t := range tracks[m:] {
			s.queue = append(s.queue, s.newItem(t, s.zero()))
		}
		s.metrics.RecordSplice(context.Background())
		s.metrics.RecordQueueLength(context.Background(), len(s.queue))
		s.log.Debug("playback: queue extended", "items", len(s.queue))
		s.arm()
		return
	}

	// Everything that differs is still ahead of the cursor, so no queued
	// audio is stale and the clock keeps running.
	if m > s.cursor {
		for _, it := range s.queue[m:] {
			s.retire(it)
		}
		s.queue = s.queue[:m:m]
		for _, t := range tracks[m:] {
			s.queue = append(s.queue, s.newItem(t, s.zero()))
		}
		s.metrics.RecordSplice(context.Background())
		s.metrics.RecordQueueLength(context.Background(), len(s.queue))
		s.log.Debug("playback: queue tail replaced", "keep", m, "items", len(s.queue))
		s.arm()
		return
	}

	k := 0
	for k < m && s.queue[k].enqueued {
		k++
	}
	if k == 0 {
		s.replaceQueue(tracks, s.zero(), 1)
		return
	}

	preserved := s.headStart
	for _, it := range s.queue[:k] {
		preserved = preserved.Add(it.endOffset)
	}
	preserved = preserved.Convert(int32(s.format.SampleRate))

	s.disarm()
	s.suspended = true
	s.log.Debug("playback: splicing queue", "keep", k, "flush_from", preserved)
	s.device.FlushFrom(preserved, func(ok bool) {
		s.ex.postResume(func() { s.finishContinuePlayback(tracks, k, preserved, ok) })
	})
}

func (s *Scheduler) finishContinuePlayback(tracks []audio.Track, k int, preserved mediatime.Time, ok bool) {
	s.suspended = false
	if !ok {
		s.metrics.RecordFlushFallback(context.Background())
		s.log.Warn("playback: renderer refused partial flush, restarting queue")
		s.replaceQueue(tracks, s.zero(), 1)
		return
	}

	for _, it := range s.queue[k:] {
		s.retire(it)
	}
	spliced := s.queue[:k:k]
	for _, t := range tracks[k:] {
		spliced = append(spliced, s.newItem(t, s.zero()))
	}
	s.queue = spliced
	s.cursor = k
	s.timelineEnd = preserved
	s.metrics.RecordSplice(context.Background())
	s.metrics.RecordQueueLength(context.Background(), len(s.queue))

	s.provideMediaData(s.priming, true)
	s.arm()
}

func (s *Scheduler) pause() {
	if s.rate == 0 {
		return
	}
	s.setRate(0, s.device.CurrentTime())
}

func (s *Scheduler) resume() {
	if len(s.queue) == 0 || s.rate == 1 {
		return
	}
	s.setRate(1, s.device.CurrentTime())
}

// provideMediaData hands buffers to the renderer while it is ready. With
// limited set, it stops once budget worth of audio has been enqueued.
func (s *Scheduler) provideMediaData(budget mediatime.Time, limited bool) {
	ctx := context.Background()
	for s.cursor < len(s.queue) {
		if limited && budget.Sign() <= 0 {
			break
		}
		if !s.device.IsReadyForMoreData() {
			break
		}

		it := s.queue[s.cursor]
		buf, ok := it.provider.NextBuffer()
		if !ok {
			s.finishItem(it)
			continue
		}
		buf.PTS = s.timelineEnd.Add(buf.PTS)
		s.device.Enqueue(buf)
		it.endOffset = it.provider.ConsumedThrough()
		if limited {
			budget = budget.Sub(buf.Duration)
		}
		s.metrics.RecordBufferEnqueued(ctx, buf.Duration.Seconds())
	}
	if s.cursor >= len(s.queue) {
		s.disarm()
	}
}

// finishItem moves the cursor past an exhausted item and watches for its end
// on the clock.
func (s *Scheduler) finishItem(it *QueueItem) {
	it.enqueued = true
	it.provider.Close()
	s.cursor++
	s.timelineEnd = s.timelineEnd.Add(it.endOffset)
	at := s.timelineEnd
	it.boundary = s.device.AddBoundaryObserver([]mediatime.Time{at}, func() {
		s.ex.post(func() { s.updateCurrentPlayingItem(it, at) })
	})
	s.log.Debug("playback: item enqueued", "path", it.track.Path, "ends_at", at)
}

func (s *Scheduler) updateCurrentPlayingItem(it *QueueItem, at mediatime.Time) {
	if len(s.queue) == 0 || s.queue[0] != it {
		return
	}
	s.retire(it)
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.cursor = max(s.cursor-1, 0)
	s.headStart = at
	s.removePeriodic()
	s.metrics.RecordItemTransition(context.Background())
	s.metrics.RecordQueueLength(context.Background(), len(s.queue))

	s.emitItemChanged()
	if len(s.queue) > 0 {
		s.anchorPeriodic(at)
		return
	}
	s.setRate(0, s.device.CurrentTime())
}

func (s *Scheduler) autoflushPlayback(restartAt mediatime.Time) {
	s.metrics.RecordAutoFlush(context.Background())
	if len(s.queue) == 0 {
		return
	}

	r := restartAt.Convert(int32(s.format.SampleRate))
	for s.cursor > 0 && r.Before(s.timelineEnd) {
		s.cursor--
		s.timelineEnd = s.timelineEnd.Sub(s.queue[s.cursor].endOffset)
	}

	idx := s.cursor
	offset := mediatime.Max(r.Sub(s.timelineEnd), s.zero())
	if idx < len(s.queue) {
		if d := s.queue[idx].track.Duration; d.Sign() > 0 && !offset.Before(d) {
			idx++
			offset = s.zero()
		}
	}
	s.log.Info("playback: renderer auto-flushed, resyncing",
		"restart_at", restartAt,
		"item", idx,
		"offset", offset,
	)

	if idx >= len(s.queue) {
		s.replaceQueue(nil, s.zero(), 0)
		return
	}
	s.replaceQueue(tracksOf(s.queue[idx:]), offset, s.rate)
}

func (s *Scheduler) setRate(rate float64, at mediatime.Time) {
	changed := rate != s.rate
	s.rate = rate
	s.device.SetRate(rate, at)
	if changed {
		s.events.publish(Event{Kind: RateChanged, Playing: rate > 0})
	}
}

// arm asks the renderer for data. A renderer that is ready immediately calls
// back on this goroutine; that fill runs inline instead of being queued behind
// later commands.
func (s *Scheduler) arm() {
	if s.armed || s.suspended || s.cursor >= len(s.queue) {
		return
	}
	s.armed = true
	s.arming.Store(true)
	s.device.RequestDataWhenReady(s.onReady)
	s.arming.Store(false)
	if s.fillNow.Swap(false) {
		s.provideMediaData(mediatime.Zero, false)
	}
}

func (s *Scheduler) disarm() {
	if !s.armed {
		return
	}
	s.armed = false
	s.device.StopRequestingData()
}

// onReady runs on whichever goroutine the renderer calls from.
func (s *Scheduler) onReady() {
	if s.arming.Load() {
		s.fillNow.Store(true)
		return
	}
	if !s.dataPending.CompareAndSwap(false, true) {
		return
	}
	s.ex.post(func() {
		s.dataPending.Store(false)
		if s.armed {
			s.provideMediaData(mediatime.Zero, false)
		}
	})
}

func (s *Scheduler) anchorPeriodic(anchor mediatime.Time) {
	s.removePeriodic()
	s.anchor = anchor
	s.periodicTok++
	tok := s.periodicTok
	s.periodic = s.device.AddPeriodicObserver(s.interval, func(now mediatime.Time) {
		s.ex.post(func() { s.reportOffset(tok, now) })
	})
}

func (s *Scheduler) removePeriodic() {
	if s.periodic != 0 {
		s.device.RemoveObserver(s.periodic)
		s.periodic = 0
	}
	s.periodicTok++
}

func (s *Scheduler) reportOffset(tok uint64, now mediatime.Time) {
	if tok != s.periodicTok || len(s.queue) == 0 {
		return
	}
	pos := mediatime.Max(now.Sub(s.anchor), mediatime.Zero)
	pct := 0.0
	if d := s.queue[0].track.Duration; d.Sign() > 0 {
		pct = min(max(pos.Ratio(d), 0), 1)
	}
	s.events.publish(Event{Kind: OffsetChanged, Percentage: pct, Seconds: pos.Seconds()})
}

func (s *Scheduler) emitItemChanged() {
	var head *QueueItem
	if len(s.queue) > 0 {
		head = s.queue[0]
	}
	s.lastHead = head
	ev := Event{Kind: ItemChanged}
	if head != nil {
		ev.Item = head.info()
	}
	s.events.publish(ev)
}

// retire releases an item's decoder and cancels its boundary observer.
func (s *Scheduler) retire(it *QueueItem) {
	if it.boundary != 0 {
		s.device.RemoveObserver(it.boundary)
		it.boundary = 0
	}
	it.provider.Close()
}
