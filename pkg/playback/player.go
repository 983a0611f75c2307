package playback

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// PlayerStatus is a [Status] together with the head's playlist position.
type PlayerStatus struct {
	Status

	// Index is the head's position in the playlist, or -1.
	Index int

	// PlaylistLen is the number of tracks in the playlist.
	PlaylistLen int
}

// Player is the caller-facing command surface. It keeps the playlist and
// translates user actions into scheduler commands. Commands from concurrent
// callers are serialised by a binary semaphore; each returns once the
// scheduler has committed it, never waiting for audio.
type Player struct {
	sched *Scheduler
	log   *slog.Logger
	sem   *semaphore.Weighted

	mu       sync.RWMutex
	playlist []audio.Track
	hint     int
}

// NewPlayer returns a player driving sched.
func NewPlayer(sched *Scheduler, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		sched: sched,
		log:   log,
		sem:   semaphore.NewWeighted(1),
		hint:  -1,
	}
}

// do runs fn under the outer guard and waits for the scheduler to apply
// whatever fn issued.
func (p *Player) do(ctx context.Context, op string, fn func(st Status) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("player: %s: %w", op, err)
	}
	defer p.sem.Release(1)

	// Let pending boundary callbacks land so the head is current.
	if err := p.sched.Sync(ctx); err != nil {
		return fmt.Errorf("player: %s: %w", op, err)
	}
	if err := fn(p.sched.Status()); err != nil {
		return fmt.Errorf("player: %s: %w", op, err)
	}
	if err := p.sched.Sync(ctx); err != nil {
		return fmt.Errorf("player: %s: %w", op, err)
	}
	return nil
}

// Play resumes a paused queue, or restarts the playlist from its first track
// when nothing is queued. With an empty playlist it does nothing.
func (p *Player) Play(ctx context.Context) error {
	return p.do(ctx, "play", func(st Status) error {
		if st.QueueLen > 0 {
			return p.sched.Resume()
		}
		pl := p.Playlist()
		if len(pl) == 0 {
			return nil
		}
		return p.sched.Replace(pl, mediatime.Zero, 1)
	})
}

// Pause halts playback at the current position.
func (p *Player) Pause(ctx context.Context) error {
	return p.do(ctx, "pause", func(Status) error {
		return p.sched.Pause()
	})
}

// Toggle pauses when playing and plays otherwise.
func (p *Player) Toggle(ctx context.Context) error {
	return p.do(ctx, "toggle", func(st Status) error {
		if st.State == Playing {
			return p.sched.Pause()
		}
		if st.QueueLen > 0 {
			return p.sched.Resume()
		}
		pl := p.Playlist()
		if len(pl) == 0 {
			return nil
		}
		return p.sched.Replace(pl, mediatime.Zero, 1)
	})
}

// Next skips to the following playlist track, keeping the play/pause state.
// Skipping past the last track stops playback.
func (p *Player) Next(ctx context.Context) error {
	return p.do(ctx, "next", func(st Status) error {
		idx := p.indexOfHead(st)
		if idx < 0 {
			return nil
		}
		pl := p.Playlist()
		if idx+1 >= len(pl) {
			return p.sched.Stop()
		}
		return p.sched.Replace(pl[idx+1:], mediatime.Zero, rateOf(st))
	})
}

// Previous goes back one playlist track, keeping the play/pause state. On the
// first track it restarts that track.
func (p *Player) Previous(ctx context.Context) error {
	return p.do(ctx, "previous", func(st Status) error {
		idx := p.indexOfHead(st)
		if idx < 0 {
			return nil
		}
		return p.sched.Replace(p.Playlist()[max(idx-1, 0):], mediatime.Zero, rateOf(st))
	})
}

// SeekOffset moves within the current track. Offsets outside the track fold
// to its start.
func (p *Player) SeekOffset(ctx context.Context, t mediatime.Time) error {
	return p.do(ctx, "seek", func(st Status) error {
		idx := p.indexOfHead(st)
		if idx < 0 {
			return nil
		}
		return p.sched.Replace(p.Playlist()[idx:], t, rateOf(st))
	})
}

// SeekPercentage moves to fraction pct of the current track.
func (p *Player) SeekPercentage(ctx context.Context, pct float64) error {
	return p.do(ctx, "seek", func(st Status) error {
		idx := p.indexOfHead(st)
		if idx < 0 {
			return nil
		}
		pct = min(max(pct, 0), 1)
		t := st.Head.Track.Duration.MulFloat(pct)
		return p.sched.Replace(p.Playlist()[idx:], t, rateOf(st))
	})
}

// SeekIndex starts playing the playlist track at i. Out-of-range indexes are
// ignored.
func (p *Player) SeekIndex(ctx context.Context, i int) error {
	return p.do(ctx, "seek", func(Status) error {
		pl := p.Playlist()
		if i < 0 || i >= len(pl) {
			return nil
		}
		p.setHint(i)
		return p.sched.Replace(pl[i:], mediatime.Zero, 1)
	})
}

// ReplaceQueue installs tracks as the playlist and starts playing from
// index from at offset. An empty list stops playback.
func (p *Player) ReplaceQueue(ctx context.Context, tracks []audio.Track, from int, offset mediatime.Time) error {
	return p.do(ctx, "replace queue", func(Status) error {
		p.setPlaylist(tracks)
		if len(tracks) == 0 {
			return p.sched.Stop()
		}
		if from < 0 || from >= len(tracks) {
			from = 0
		}
		p.setHint(from)
		return p.sched.Replace(tracks[from:], offset, 1)
	})
}

// ContinueWithCurrentItems installs tracks as the playlist without
// interrupting the current track when it is still part of it. When nothing
// is playing only the playlist changes.
func (p *Player) ContinueWithCurrentItems(ctx context.Context, tracks []audio.Track) error {
	return p.do(ctx, "continue", func(st Status) error {
		p.setPlaylist(tracks)
		if st.Head == nil {
			return nil
		}
		idx := indexOf(tracks, st.Head.Track.ID, 0)
		if idx < 0 {
			return p.sched.Continue(tracks)
		}
		p.setHint(idx)
		return p.sched.Continue(tracks[idx:])
	})
}

// SetVolume sets the output gain, clamped to [0, 1].
func (p *Player) SetVolume(ctx context.Context, v float64) error {
	return p.do(ctx, "volume", func(Status) error {
		return p.sched.SetVolume(min(max(v, 0), 1))
	})
}

// Stop empties the queue. The playlist is kept so Play starts it again.
func (p *Player) Stop(ctx context.Context) error {
	return p.do(ctx, "stop", func(Status) error {
		return p.sched.Stop()
	})
}

// Status returns the scheduler status and the head's playlist index.
func (p *Player) Status() PlayerStatus {
	st := p.sched.Status()
	p.mu.RLock()
	n := len(p.playlist)
	p.mu.RUnlock()
	return PlayerStatus{Status: st, Index: p.indexOfHead(st), PlaylistLen: n}
}

// Playlist returns a copy of the playlist.
func (p *Player) Playlist() []audio.Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.playlist)
}

// IndexOf returns the playlist position of the track with id, or -1.
func (p *Player) IndexOf(id uuid.UUID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return indexOf(p.playlist, id, p.hint)
}

// Subscribe forwards to [Scheduler.Subscribe].
func (p *Player) Subscribe(buffer int) *Subscription {
	return p.sched.Subscribe(buffer)
}

func (p *Player) setPlaylist(tracks []audio.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlist = slices.Clone(tracks)
	p.hint = -1
}

func (p *Player) setHint(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hint = i
}

func (p *Player) indexOfHead(st Status) int {
	if st.Head == nil {
		return -1
	}
	return p.IndexOf(st.Head.Track.ID)
}

// indexOf searches from hint onwards first, since the head usually sits at
// or just after the last known position.
func indexOf(tracks []audio.Track, id uuid.UUID, hint int) int {
	if hint >= 0 && hint < len(tracks) {
		for i := hint; i < len(tracks); i++ {
			if tracks[i].ID == id {
				return i
			}
		}
	}
	return slices.IndexFunc(tracks, func(t audio.Track) bool { return t.ID == id })
}

func rateOf(st Status) float64 {
	if st.State == Playing {
		return 1
	}
	return 0
}
