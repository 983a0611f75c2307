// Package goaudio decodes RIFF/WAVE files with go-audio/wav, including the
// INFO tags written by most rippers.
package goaudio

import (
	"errors"
	"fmt"
	"io"
	"os"

	pcm "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// Compile-time interface assertions.
var (
	_ audio.Decoder = (*Decoder)(nil)
	_ audio.Session = (*session)(nil)
)

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

// Decoder is an [audio.Decoder] for WAV files. It is safe for concurrent use.
type Decoder struct {
	chunkFrames int
}

// New returns a WAV decoder.
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

	info := audio.Info{
		Duration:    mediatime.Frames(s.frames, s.format.SampleRate),
		Format:      s.format,
		FormatLabel: "WAV",
	}

	// Tags live in a LIST chunk that may follow the data chunk, so they are
	// read with a second decoder after rewinding.
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return info, nil
	}
	md := wav.NewDecoder(s.file)
	md.ReadMetadata()
	if md.Err() == nil && md.Metadata != nil {
		info.Metadata = map[string]string{
			audio.MetaTitle:   md.Metadata.Title,
			audio.MetaArtist:  md.Metadata.Artist,
			audio.MetaAlbum:   md.Metadata.Product,
			audio.MetaTrackNo: md.Metadata.TrackNbr,
		}
	}
	return info, nil
}

// Open implements [audio.Decoder].
func (d *Decoder) Open(path string) (audio.Session, error) {
	return d.open(path)
}

func (d *Decoder) open(path string) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("goaudio: open %q: %w", path, err)
	}
	s := &session{file: f, chunkFrames: d.chunkFrames}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, fmt.Errorf("goaudio: %q: %w", path, err)
	}
	return s, nil
}

type session struct {
	file        *os.File
	dec         *wav.Decoder
	format      audio.Format
	frames      int64
	pos         int64
	chunkFrames int
	buf         *pcm.IntBuffer
	closed      bool
}

// rewind positions a fresh decoder at the first PCM frame.
func (s *session) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := wav.NewDecoder(s.file)
	if !dec.IsValidFile() {
		return audio.ErrUnsupportedFormat
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("locate pcm: %w", err)
	}

	ch, bits := int(dec.NumChans), int(dec.BitDepth)
	if ch <= 0 || bits <= 0 || dec.SampleRate == 0 {
		return audio.ErrUnsupportedFormat
	}
	s.dec = dec
	s.format = audio.Format{SampleRate: int(dec.SampleRate), Channels: ch, BitDepth: bits}
	s.frames = int64(dec.PCMSize) / int64(ch*bits/8)
	s.pos = 0
	s.buf = &pcm.IntBuffer{
		Data:           make([]int, s.chunkFrames*ch),
		Format:         &pcm.Format{NumChannels: ch, SampleRate: int(dec.SampleRate)},
		SourceBitDepth: bits,
	}
	return nil
}

func (s *session) Format() audio.Format { return s.format }

func (s *session) NextChunk() (audio.Chunk, error) {
	if s.closed {
		return audio.Chunk{}, os.ErrClosed
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return audio.Chunk{}, fmt.Errorf("goaudio: read pcm: %w", err)
		}
		return audio.Chunk{}, io.EOF
	}

	// Drop a trailing partial frame.
	ch := s.format.Channels
	n -= n % ch
	data := make([]float32, n)
	toFloat(data, s.buf.Data[:n], s.format.BitDepth)
	s.pos += int64(n / ch)
	return audio.Chunk{Data: data, Format: s.format}, nil
}

// Seek decodes and discards up to t. Seeking backwards restarts from the
// first frame.
func (s *session) Seek(t mediatime.Time) error {
	target := t.Convert(int32(s.format.SampleRate)).Value
	target = min(max(target, 0), s.frames)
	if target < s.pos {
		if err := s.rewind(); err != nil {
			return fmt.Errorf("goaudio: seek to %v: %w", t, err)
		}
	}
	for s.pos < target {
		want := int(min(target-s.pos, int64(s.chunkFrames))) * s.format.Channels
		s.buf.Data = s.buf.Data[:want]
		n, err := s.dec.PCMBuffer(s.buf)
		s.pos += int64(n / s.format.Channels)
		if n == 0 || err != nil {
			break
		}
	}
	s.buf.Data = s.buf.Data[:cap(s.buf.Data)]
	return nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// toFloat scales integer PCM to [-1, 1]. 8-bit WAV is unsigned.
func toFloat(dst []float32, src []int, bits int) {
	if bits == 8 {
		for i, v := range src {
			dst[i] = float32(v-128) / 128
		}
		return
	}
	scale := float32(int64(1) << (bits - 1))
	for i, v := range src {
		dst[i] = float32(v) / scale
	}
}
