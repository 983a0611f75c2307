package playback_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/mock"
	"github.com/MrWong99/gapless/pkg/audio/virtual"
	"github.com/MrWong99/gapless/pkg/mediatime"
	"github.com/MrWong99/gapless/pkg/playback"
)

// harness runs a scheduler against a manually clocked virtual device.
type harness struct {
	t     *testing.T
	ctx   context.Context
	dev   *virtual.Device
	dec   *mock.Decoder
	sched *playback.Scheduler
	sub   *playback.Subscription
}

func newHarness(t *testing.T, seconds map[string]int64, devOpts ...virtual.Option) *harness {
	t.Helper()

	dec := &mock.Decoder{Durations: make(map[string]mediatime.Time, len(seconds))}
	for path, s := range seconds {
		dec.Durations[path] = mediatime.New(s, 1)
	}
	dev := virtual.New(mock.DefaultFormat, devOpts...)
	sched := playback.New(dev, dec)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	return &harness{
		t:     t,
		ctx:   ctx,
		dev:   dev,
		dec:   dec,
		sched: sched,
		sub:   sched.Subscribe(8192),
	}
}

func (h *harness) track(path string) audio.Track {
	h.t.Helper()
	info, err := h.dec.Probe(path)
	if err != nil {
		h.t.Fatalf("Probe(%q): %v", path, err)
	}
	return audio.NewTrack(path, info)
}

func (h *harness) sync() {
	h.t.Helper()
	if err := h.sched.Sync(h.ctx); err != nil {
		h.t.Fatalf("Sync: %v", err)
	}
}

func (h *harness) snapshot() playback.Snapshot {
	h.t.Helper()
	snap, err := h.sched.Snapshot(h.ctx)
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

// advance plays d of audio in 100ms slices, letting the scheduler catch up
// after each so the device never starves.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	const slice = 100 * time.Millisecond
	for d > 0 {
		s := min(d, slice)
		h.dev.Advance(s)
		h.sync()
		d -= s
	}
}

// events returns every event delivered so far.
func (h *harness) events() []playback.Event {
	var out []playback.Event
	for {
		select {
		case ev := <-h.sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func ofKind(evs []playback.Event, k playback.EventKind) []playback.Event {
	var out []playback.Event
	for _, ev := range evs {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func sec(s float64) mediatime.Time { return mediatime.FromSeconds(s, mediatime.PreferredScale) }

func near(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func isClosed(err error) bool { return errors.Is(err, playback.ErrClosed) }
