package control

import (
	"github.com/MrWong99/gapless/internal/library"
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/playback"
)

// SeekRequest is the body of POST /v1/seek. Exactly one field must be set.
// Percentage is a fraction in [0, 1].
type SeekRequest struct {
	OffsetSeconds *float64 `json:"offset_seconds,omitempty"`
	Percentage    *float64 `json:"percentage,omitempty"`
	Index         *int     `json:"index,omitempty"`
}

// QueueRequest is the body of PUT /v1/queue.
type QueueRequest struct {
	Paths         []string `json:"paths"`
	FromIndex     int      `json:"from_index"`
	OffsetSeconds float64  `json:"offset_seconds"`
}

// ContinueRequest is the body of POST /v1/queue/continue.
type ContinueRequest struct {
	Paths []string `json:"paths"`
}

// VolumeRequest is the body of PUT /v1/volume.
type VolumeRequest struct {
	Volume *float64 `json:"volume"`
}

// Track is the wire form of an [audio.Track].
type Track struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album,omitempty"`
	TrackNo  int     `json:"track_no,omitempty"`
	Format   string  `json:"format,omitempty"`
	Duration float64 `json:"duration_seconds"`
}

// Status is the body of GET /v1/status and of every successful command.
type Status struct {
	State       string  `json:"state"`
	Track       *Track  `json:"track,omitempty"`
	Index       int     `json:"index"`
	Position    float64 `json:"position_seconds"`
	Duration    float64 `json:"duration_seconds"`
	Volume      float64 `json:"volume"`
	QueueLen    int     `json:"queue_length"`
	PlaylistLen int     `json:"playlist_length"`
}

// Queue is the body of GET /v1/queue.
type Queue struct {
	Index  int     `json:"index"`
	Tracks []Track `json:"tracks"`
}

// LibraryHit is one search result of GET /v1/library.
type LibraryHit struct {
	Track Track   `json:"track"`
	Score float64 `json:"score"`
}

// LibraryResult is the body of GET /v1/library.
type LibraryResult struct {
	Query   string       `json:"query"`
	Results []LibraryHit `json:"results"`
}

// Event is one message on the /v1/events stream. The first message after
// connecting has type "status" and carries Status; the rest mirror
// [playback.Event].
type Event struct {
	Type       string   `json:"type"`
	Seq        uint64   `json:"seq,omitempty"`
	Track      *Track   `json:"track,omitempty"`
	Index      *int     `json:"index,omitempty"`
	Playing    *bool    `json:"playing,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Seconds    *float64 `json:"seconds,omitempty"`
	Status     *Status  `json:"status,omitempty"`
}

// Error is the body of every failed request.
type Error struct {
	Error string `json:"error"`
}

// EventTypeStatus is the type of the initial /v1/events message.
const EventTypeStatus = "status"

// ── Conversions ──────────────────────────────────────────────────────────────

func trackOf(t audio.Track) Track {
	return Track{
		ID:       t.ID.String(),
		Path:     t.Path,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		TrackNo:  t.TrackNo,
		Format:   t.FormatLabel,
		Duration: t.Duration.Seconds(),
	}
}

func statusOf(st playback.PlayerStatus) Status {
	out := Status{
		State:       st.State.String(),
		Index:       st.Index,
		Position:    st.Position.Seconds(),
		Volume:      st.Volume,
		QueueLen:    st.QueueLen,
		PlaylistLen: st.PlaylistLen,
	}
	if st.Head != nil {
		t := trackOf(st.Head.Track)
		out.Track = &t
		out.Duration = t.Duration
	}
	return out
}

func hitsOf(matches []library.Match) []LibraryHit {
	out := make([]LibraryHit, len(matches))
	for i, m := range matches {
		out[i] = LibraryHit{Track: trackOf(m.Track), Score: m.Score}
	}
	return out
}

// eventOf converts ev; indexOf maps the head track to its playlist position.
func eventOf(ev playback.Event, indexOf func(audio.Track) int) Event {
	out := Event{Type: ev.Kind.String(), Seq: ev.Seq}
	switch ev.Kind {
	case playback.ItemChanged:
		idx := -1
		if ev.Item != nil {
			t := trackOf(ev.Item.Track)
			out.Track = &t
			idx = indexOf(ev.Item.Track)
		}
		out.Index = &idx
	case playback.RateChanged:
		playing := ev.Playing
		out.Playing = &playing
	case playback.OffsetChanged:
		pct, secs := ev.Percentage, ev.Seconds
		out.Percentage = &pct
		out.Seconds = &secs
	}
	return out
}
