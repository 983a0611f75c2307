// Package mock provides an in-memory implementation of the [audio.Decoder]
// and [audio.Session] interfaces for use in unit tests.
//
// The decoder synthesises silence of a configured length per path, so tests
// can build queues of arbitrarily long tracks without touching the file
// system. It records every call so that tests can assert on call counts, and
// it exposes exported fields that the test can set to inject failures.
//
// Typical usage:
//
//	dec := &mock.Decoder{
//	    Durations: map[string]mediatime.Time{
//	        "a.wav": mediatime.New(60, 1),
//	        "b.wav": mediatime.New(90, 1),
//	    },
//	}
//	info, err := dec.Probe("a.wav")
package mock

import (
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// DefaultFormat is used when [Decoder.Format] is left zero: 1 kHz mono keeps
// synthetic tracks cheap.
var DefaultFormat = audio.Format{SampleRate: 1000, Channels: 1, BitDepth: 16}

// DefaultChunkFrames is used when [Decoder.ChunkFrames] is zero (0.1s at
// [DefaultFormat]).
const DefaultChunkFrames = 100

// Decoder is a mock implementation of [audio.Decoder].
// Set the exported fields before use; inspect the Call* fields after.
type Decoder struct {
	mu sync.Mutex

	// Durations maps a path to the synthetic length of its stream. Paths not
	// present fail with [audio.ErrUnsupportedFormat].
	Durations map[string]mediatime.Time

	// Metadata optionally maps a path to its tags.
	Metadata map[string]map[string]string

	// Format of produced chunks. Defaults to [DefaultFormat].
	Format audio.Format

	// ChunkFrames is the number of frames per chunk. Defaults to
	// [DefaultChunkFrames].
	ChunkFrames int

	// OpenError is returned by every Open call when non-nil.
	OpenError error

	// FailAfter maps a path to the number of chunks after which the session
	// returns a decode error instead of the next chunk.
	FailAfter map[string]int

	// DisableSeek makes sessions return [audio.ErrSeekUnsupported].
	DisableSeek bool

	// CallCountProbe records how many times Probe was called.
	CallCountProbe int

	// OpenedPaths records the path of every Open call, in order.
	OpenedPaths []string

	// CallCountClose records how many sessions were closed.
	CallCountClose int

	// SeekCalls records every successful Seek target, in order.
	SeekCalls []mediatime.Time
}

var _ audio.Decoder = (*Decoder)(nil)

func (d *Decoder) format() audio.Format {
	if d.Format.Valid() {
		return d.Format
	}
	return DefaultFormat
}

func (d *Decoder) chunkFrames() int {
	if d.ChunkFrames > 0 {
		return d.ChunkFrames
	}
	return DefaultChunkFrames
}

// Probe implements [audio.Decoder].
func (d *Decoder) Probe(path string) (audio.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountProbe++

	dur, ok := d.Durations[path]
	if !ok {
		return audio.Info{}, fmt.Errorf("mock: probe %q: %w", path, audio.ErrUnsupportedFormat)
	}
	return audio.Info{
		Duration:    dur,
		Format:      d.format(),
		FormatLabel: "MOCK",
		Metadata:    d.Metadata[path],
	}, nil
}

// Open implements [audio.Decoder].
func (d *Decoder) Open(path string) (audio.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenedPaths = append(d.OpenedPaths, path)

	if d.OpenError != nil {
		return nil, d.OpenError
	}
	dur, ok := d.Durations[path]
	if !ok {
		return nil, fmt.Errorf("mock: open %q: %w", path, audio.ErrUnsupportedFormat)
	}
	f := d.format()
	failAfter := -1
	if n, ok := d.FailAfter[path]; ok {
		failAfter = n
	}
	return &Session{
		dec:         d,
		format:      f,
		total:       dur.Convert(int32(f.SampleRate)).Value,
		chunkFrames: d.chunkFrames(),
		failAfter:   failAfter,
	}, nil
}

// Opens returns how many sessions were opened for path.
func (d *Decoder) Opens(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.OpenedPaths {
		if p == path {
			n++
		}
	}
	return n
}

// Closes returns CallCountClose under the lock.
func (d *Decoder) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

// Session is the [audio.Session] returned by [Decoder.Open].
type Session struct {
	dec         *Decoder
	format      audio.Format
	total       int64
	pos         int64
	chunkFrames int
	chunks      int
	failAfter   int
	closed      bool
}

var _ audio.Session = (*Session)(nil)

// Format implements [audio.Session].
func (s *Session) Format() audio.Format { return s.format }

// NextChunk implements [audio.Session]. Samples are silent.
func (s *Session) NextChunk() (audio.Chunk, error) {
	if s.closed {
		return audio.Chunk{}, io.ErrClosedPipe
	}
	if s.failAfter >= 0 && s.chunks >= s.failAfter {
		return audio.Chunk{}, fmt.Errorf("mock: corrupt frame after %d chunks", s.chunks)
	}
	remaining := s.total - s.pos
	if remaining <= 0 {
		return audio.Chunk{}, io.EOF
	}
	n := min(int64(s.chunkFrames), remaining)
	s.pos += n
	s.chunks++
	return audio.Chunk{
		Data:   make([]float32, int(n)*s.format.Channels),
		Format: s.format,
	}, nil
}

// Seek implements [audio.Session].
func (s *Session) Seek(t mediatime.Time) error {
	s.dec.mu.Lock()
	defer s.dec.mu.Unlock()
	if s.dec.DisableSeek {
		return audio.ErrSeekUnsupported
	}
	s.dec.SeekCalls = append(s.dec.SeekCalls, t)
	s.pos = min(max(t.Convert(int32(s.format.SampleRate)).Value, 0), s.total)
	return nil
}

// Close implements [audio.Session]. It is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.dec.mu.Lock()
	s.dec.CallCountClose++
	s.dec.mu.Unlock()
	return nil
}
