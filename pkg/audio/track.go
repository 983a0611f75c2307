package audio

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Metadata keys understood by [NewTrack].
const (
	MetaTitle   = "title"
	MetaArtist  = "artist"
	MetaAlbum   = "album"
	MetaTrackNo = "track"
)

// UnknownArtist is used when a file carries no artist tag.
const UnknownArtist = "Unknown Artist"

// Info is what a [Decoder] reports about a file without decoding it fully.
type Info struct {
	// Duration is the exact length of the decoded stream.
	Duration mediatime.Time

	// Format is the native PCM format of the file.
	Format Format

	// FormatLabel is a short human label such as "FLAC" or "MP3".
	FormatLabel string

	// Metadata holds tag values keyed by the Meta* constants. May be nil.
	Metadata map[string]string
}

// Track is an immutable description of a playable file. Tracks are created
// once per file and shared read-only by every queue entry that references
// them; identity is the ID, not the path, so the same file can appear twice
// in a playlist.
type Track struct {
	ID          uuid.UUID
	Path        string
	Duration    mediatime.Time
	Format      Format
	FormatLabel string
	Title       string
	Artist      string
	Album       string
	TrackNo     int
}

// NewTrack builds a Track for path from probed info, assigning a fresh ID.
// Missing titles fall back to the file's base name and missing artists to
// [UnknownArtist].
func NewTrack(path string, info Info) Track {
	t := Track{
		ID:          uuid.New(),
		Path:        path,
		Duration:    info.Duration,
		Format:      info.Format,
		FormatLabel: info.FormatLabel,
		Title:       strings.TrimSpace(info.Metadata[MetaTitle]),
		Artist:      strings.TrimSpace(info.Metadata[MetaArtist]),
		Album:       strings.TrimSpace(info.Metadata[MetaAlbum]),
		TrackNo:     parseTrackNo(info.Metadata[MetaTrackNo]),
	}
	if t.Title == "" {
		base := filepath.Base(path)
		t.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if t.Artist == "" {
		t.Artist = UnknownArtist
	}
	return t
}

// Same reports whether t and o are the same track instance.
func (t Track) Same(o Track) bool {
	return t.ID == o.ID
}

// parseTrackNo accepts "7" as well as the "7/12" form used by most taggers.
func parseTrackNo(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
