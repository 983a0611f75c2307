// Package faiface decodes MP3, FLAC, Ogg Vorbis, and WAV files through the
// beep decoders.
//
// beep does not read tags, so probed files carry no metadata; tracks fall back
// to their file name for display.
package faiface

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Compile-time interface assertions.
var (
	_ audio.Decoder = (*Decoder)(nil)
	_ audio.Session = (*session)(nil)
)

// Extensions lists the containers this backend is registered for by default.
// WAV is handled too but is usually served by the go-audio backend.
var Extensions = []string{"mp3", "flac", "ogg"}

// DefaultChunkFrames is the number of frames decoded per chunk.
const DefaultChunkFrames = 4096

// Option configures a [Decoder].
type Option func(*Decoder)

// WithChunkFrames sets how many frames each chunk holds.
func WithChunkFrames(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunkFrames = n
		}
	}
}

// Decoder is an [audio.Decoder] backed by beep. It holds no state between
// calls and is safe for concurrent use.
type Decoder struct {
	chunkFrames int
}

// New returns a beep-backed decoder.
func New(opts ...Option) *Decoder {
	d := &Decoder{chunkFrames: DefaultChunkFrames}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Probe implements [audio.Decoder].
func (d *Decoder) Probe(path string) (audio.Info, error) {
	s, err := d.open(path)
	if err != nil {
		return audio.Info{}, err
	}
	defer s.Close()
	return audio.Info{
		Duration:    mediatime.Frames(int64(s.stream.Len()), s.format.SampleRate),
		Format:      s.format,
		FormatLabel: strings.ToUpper(ext(path)),
	}, nil
}

// Open implements [audio.Decoder].
func (d *Decoder) Open(path string) (audio.Session, error) {
	return d.open(path)
}

func (d *Decoder) open(path string) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("faiface: open %q: %w", path, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch ext(path) {
	case "mp3":
		stream, format, err = mp3.Decode(f)
	case "flac":
		stream, format, err = flac.Decode(f)
	case "ogg":
		stream, format, err = vorbis.Decode(f)
	case "wav":
		stream, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("faiface: %q: %w", path, audio.ErrUnsupportedFormat)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("faiface: decode %q: %w", path, err)
	}

	return &session{
		file:   f,
		stream: stream,
		format: audio.Format{
			SampleRate: int(format.SampleRate),
			Channels:   format.NumChannels,
			BitDepth:   format.Precision * 8,
		},
		buf: make([][2]float64, d.chunkFrames),
	}, nil
}

func ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// session adapts a beep stream to [audio.Session]. beep always yields
// stereo frames; mono sources keep only the left channel.
type session struct {
	file   *os.File
	stream beep.StreamSeekCloser
	format audio.Format
	buf    [][2]float64
	closed bool
}

func (s *session) Format() audio.Format { return s.format }

func (s *session) NextChunk() (audio.Chunk, error) {
	if s.closed {
		return audio.Chunk{}, os.ErrClosed
	}
	n, _ := s.stream.Stream(s.buf)
	if n == 0 {
		if err := s.stream.Err(); err != nil {
			return audio.Chunk{}, fmt.Errorf("faiface: stream: %w", err)
		}
		return audio.Chunk{}, io.EOF
	}

	ch := s.format.Channels
	data := make([]float32, 0, n*ch)
	for _, frame := range s.buf[:n] {
		data = append(data, float32(frame[0]))
		if ch > 1 {
			data = append(data, float32(frame[1]))
		}
	}
	return audio.Chunk{Data: data, Format: s.format}, nil
}

func (s *session) Seek(t mediatime.Time) error {
	p := t.Convert(int32(s.format.SampleRate)).Value
	p = min(max(p, 0), int64(s.stream.Len()))
	if err := s.stream.Seek(int(p)); err != nil {
		return fmt.Errorf("faiface: seek to %v: %w", t, err)
	}
	return nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stream.Close()
	if ferr := s.file.Close(); ferr != nil && !errors.Is(ferr, os.ErrClosed) {
		err = errors.Join(err, ferr)
	}
	return err
}
