package playback_test

import (
	"testing"
	"time"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
	"github.com/MrWong99/gapless/pkg/playback"
)

func newPlayer(t *testing.T, seconds map[string]int64) (*harness, *playback.Player, []audio.Track) {
	t.Helper()
	h := newHarness(t, seconds)
	var tracks []audio.Track
	for _, p := range []string{"a", "b", "c"} {
		if _, ok := seconds[p]; ok {
			tracks = append(tracks, h.track(p))
		}
	}
	return h, playback.NewPlayer(h.sched, nil), tracks
}

func TestPlayer_PlayOnEmptyIsNoop(t *testing.T) {
	t.Parallel()

	h, p, _ := newPlayer(t, map[string]int64{})
	must(t, p.Play(h.ctx))
	must(t, p.Toggle(h.ctx))

	if evs := h.events(); len(evs) != 0 {
		t.Errorf("events = %v, want none", evs)
	}
	if got := h.dev.Flushes(); got != 0 {
		t.Errorf("Flushes = %d, want 0", got)
	}
	st := p.Status()
	if st.State != playback.Stopped || st.Index != -1 {
		t.Errorf("Status = %+v, want stopped with no index", st)
	}
}

func TestPlayer_ReplaceQueueAndNavigate(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30, "b": 30, "c": 30})

	must(t, p.ReplaceQueue(h.ctx, tracks, 1, sec(3)))
	st := p.Status()
	if st.Index != 1 || st.State != playback.Playing {
		t.Fatalf("after replace: index=%d state=%v, want 1 playing", st.Index, st.State)
	}
	if st.PlaylistLen != 3 {
		t.Errorf("PlaylistLen = %d, want 3", st.PlaylistLen)
	}
	if !st.Head.StartOffset.Equal(sec(3)) {
		t.Errorf("StartOffset = %v, want 3s", st.Head.StartOffset)
	}

	must(t, p.Next(h.ctx))
	if got := p.Status().Index; got != 2 {
		t.Errorf("after next: index = %d, want 2", got)
	}

	must(t, p.Previous(h.ctx))
	must(t, p.Previous(h.ctx))
	if got := p.Status().Index; got != 0 {
		t.Errorf("after two previous: index = %d, want 0", got)
	}

	// Previous on the first track restarts it.
	h.advance(time.Second)
	must(t, p.Previous(h.ctx))
	st = p.Status()
	if st.Index != 0 || !st.Position.IsZero() {
		t.Errorf("previous on first: index=%d position=%v, want 0 at 0", st.Index, st.Position)
	}

	must(t, p.SeekIndex(h.ctx, 2))
	must(t, p.Next(h.ctx))
	if st := p.Status(); st.State != playback.Stopped {
		t.Errorf("next past the end: state = %v, want stopped", st.State)
	}

	// Play restarts the kept playlist from the top.
	must(t, p.Play(h.ctx))
	if got := p.Status().Index; got != 0 {
		t.Errorf("play after stop: index = %d, want 0", got)
	}
}

func TestPlayer_NextKeepsPausedState(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30, "b": 30})
	must(t, p.ReplaceQueue(h.ctx, tracks, 0, mediatime.Zero))
	must(t, p.Pause(h.ctx))
	must(t, p.Next(h.ctx))

	st := p.Status()
	if st.State != playback.Paused || st.Index != 1 {
		t.Errorf("Status = %v at %d, want paused at 1", st.State, st.Index)
	}
}

func TestPlayer_Toggle(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30})
	must(t, p.ReplaceQueue(h.ctx, tracks, 0, mediatime.Zero))

	must(t, p.Toggle(h.ctx))
	if got := p.Status().State; got != playback.Paused {
		t.Errorf("after toggle: %v, want paused", got)
	}
	must(t, p.Toggle(h.ctx))
	if got := p.Status().State; got != playback.Playing {
		t.Errorf("after second toggle: %v, want playing", got)
	}
}

func TestPlayer_SeekOffsetAndPercentage(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 40, "b": 30})
	must(t, p.ReplaceQueue(h.ctx, tracks, 0, mediatime.Zero))

	must(t, p.SeekOffset(h.ctx, sec(12)))
	st := p.Status()
	if st.Index != 0 || !near(st.Position.Seconds(), 12, 0.001) {
		t.Errorf("after seek: index=%d position=%v, want 0 at 12s", st.Index, st.Position)
	}

	must(t, p.SeekPercentage(h.ctx, 0.5))
	if got := p.Status().Position.Seconds(); !near(got, 20, 0.001) {
		t.Errorf("after 50%% seek: position = %.3f, want 20", got)
	}

	// Out of range folds to the start of the track.
	must(t, p.SeekOffset(h.ctx, sec(400)))
	if got := p.Status().Position; !got.IsZero() {
		t.Errorf("after out-of-range seek: position = %v, want 0", got)
	}

	must(t, p.SeekIndex(h.ctx, 7))
	if got := p.Status().Index; got != 0 {
		t.Errorf("out-of-range SeekIndex moved to %d", got)
	}
}

func TestPlayer_ContinueWithCurrentItems(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30, "b": 30, "c": 30})
	a, b, c := tracks[0], tracks[1], tracks[2]

	must(t, p.ReplaceQueue(h.ctx, []audio.Track{a, b}, 1, mediatime.Zero))
	h.advance(500 * time.Millisecond)
	h.events()
	flushes := h.dev.Flushes()

	// b keeps playing; c is inserted before it in the playlist.
	must(t, p.ContinueWithCurrentItems(h.ctx, []audio.Track{a, c, b}))
	st := p.Status()
	if st.Index != 2 || st.Head.Track.ID != b.ID {
		t.Errorf("index = %d head = %s, want b at 2", st.Index, st.Head.Track.Path)
	}
	if got := h.dev.Flushes(); got != flushes {
		t.Errorf("Flushes = %d, want %d (no interruption)", got, flushes)
	}
	if evs := ofKind(h.events(), playback.ItemChanged); len(evs) != 0 {
		t.Errorf("ItemChanged = %v, want none", evs)
	}
	if got := len(p.Playlist()); got != 3 {
		t.Errorf("playlist length = %d, want 3", got)
	}
}

func TestPlayer_ContinueWhileStoppedOnlyEditsPlaylist(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30, "b": 30})
	must(t, p.ContinueWithCurrentItems(h.ctx, tracks))

	if st := p.Status(); st.State != playback.Stopped || st.PlaylistLen != 2 {
		t.Errorf("Status = %+v, want stopped with 2 playlist tracks", st)
	}
	if evs := h.events(); len(evs) != 0 {
		t.Errorf("events = %v, want none", evs)
	}
}

func TestPlayer_SetVolume(t *testing.T) {
	t.Parallel()

	h, p, _ := newPlayer(t, map[string]int64{})
	must(t, p.SetVolume(h.ctx, 0.25))
	if got := h.dev.Volume(); got != 0.25 {
		t.Errorf("device volume = %v, want 0.25", got)
	}
	must(t, p.SetVolume(h.ctx, -2))
	if got := p.Status().Volume; got != 0 {
		t.Errorf("volume = %v, want 0", got)
	}
}

func TestPlayer_StopKeepsPlaylist(t *testing.T) {
	t.Parallel()

	h, p, tracks := newPlayer(t, map[string]int64{"a": 30, "b": 30})
	must(t, p.ReplaceQueue(h.ctx, tracks, 0, mediatime.Zero))
	must(t, p.Stop(h.ctx))

	st := p.Status()
	if st.State != playback.Stopped || st.PlaylistLen != 2 {
		t.Errorf("Status = %+v, want stopped with playlist kept", st)
	}
}
