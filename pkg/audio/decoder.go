package audio

import (
	"errors"

	"github.com/MrWong99/gapless/pkg/mediatime"
)

var (
	// ErrUnsupportedFormat is returned when no decoder handles a file.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")

	// ErrSeekUnsupported is returned by [Session.Seek] when the backend cannot
	// reposition. Callers fall back to decoding and discarding.
	ErrSeekUnsupported = errors.New("audio: seek unsupported")
)

// Decoder is an opaque per-file decode backend.
//
// Implementations must be safe for concurrent use; each [Session] returned by
// Open is used by a single goroutine.
type Decoder interface {
	// Probe reads duration, format and tags for path without keeping it open.
	Probe(path string) (Info, error)

	// Open starts a decode session positioned at the beginning of the stream.
	Open(path string) (Session, error)
}

// Session is one open decode stream.
type Session interface {
	// Format returns the PCM format of chunks produced by NextChunk.
	Format() Format

	// NextChunk returns the next block of PCM. It returns io.EOF once the
	// stream is exhausted. Any other error is a decode failure.
	NextChunk() (Chunk, error)

	// Seek positions the stream so that the next chunk starts at t.
	Seek(t mediatime.Time) error

	// Close releases the underlying file.
	Close() error
}
