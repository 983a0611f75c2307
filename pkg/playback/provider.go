package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// BufferProvider turns one track's decode stream into timestamped buffers in
// the renderer's format. The decode session is opened on the first call to
// [BufferProvider.NextBuffer], so items that are never reached cost nothing.
//
// Timestamps are relative to the item: the first buffer starts at the origin
// passed to [NewBufferProvider] and each following buffer starts where the
// previous one ended. They are kept in the target sample rate's timescale so
// accumulation stays exact.
//
// A BufferProvider is not safe for concurrent use.
type BufferProvider struct {
	dec     audio.Decoder
	track   audio.Track
	target  audio.Format
	origin  mediatime.Time
	log     *slog.Logger
	metrics Metrics

	session audio.Session
	conv    *audio.Converter
	pts     mediatime.Time
	skip    int64 // source frames still to discard after a failed seek
	opened  bool
	done    bool
}

// NewBufferProvider returns a provider for track starting at origin.
func NewBufferProvider(dec audio.Decoder, track audio.Track, target audio.Format, origin mediatime.Time, log *slog.Logger, m Metrics) *BufferProvider {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	origin = origin.Convert(int32(target.SampleRate))
	return &BufferProvider{
		dec:     dec,
		track:   track,
		target:  target,
		origin:  origin,
		log:     log,
		metrics: m,
		pts:     origin,
	}
}

// Origin returns the item-relative time of the first buffer.
func (p *BufferProvider) Origin() mediatime.Time { return p.origin }

// ConsumedThrough returns the item-relative time right after the last buffer
// returned so far.
func (p *BufferProvider) ConsumedThrough() mediatime.Time { return p.pts }

// Exhausted reports whether the stream has ended.
func (p *BufferProvider) Exhausted() bool { return p.done }

// NextBuffer returns the next buffer, or false once the stream is exhausted.
// Decode errors end the stream the same way; they are logged and counted but
// never returned.
func (p *BufferProvider) NextBuffer() (audio.Buffer, bool) {
	if p.done {
		return audio.Buffer{}, false
	}
	if !p.opened {
		if err := p.open(); err != nil {
			p.fail(err)
			return audio.Buffer{}, false
		}
	}

	for {
		c, err := p.session.NextChunk()
		if errors.Is(err, io.EOF) {
			p.finish()
			return audio.Buffer{}, false
		}
		if err != nil {
			p.fail(err)
			return audio.Buffer{}, false
		}
		if p.skip > 0 {
			c = p.discard(c)
		}
		c = p.conv.Convert(c)
		n := c.Frames()
		if n == 0 {
			continue
		}

		b := audio.Buffer{
			Data:     c.Data,
			Format:   p.target,
			Frames:   n,
			PTS:      p.pts,
			Duration: mediatime.Frames(int64(n), p.target.SampleRate),
		}
		p.pts = p.pts.Add(b.Duration)
		return b, true
	}
}

func (p *BufferProvider) open() error {
	p.opened = true
	s, err := p.dec.Open(p.track.Path)
	if err != nil {
		return err
	}
	p.session = s
	p.conv = audio.NewConverter(p.target)

	if p.origin.Sign() <= 0 {
		return nil
	}
	if err := s.Seek(p.origin); err != nil {
		p.log.Debug("playback: seek unsupported, decoding up to offset",
			"path", p.track.Path,
			"offset", p.origin,
			"err", err,
		)
		p.skip = p.origin.Convert(int32(s.Format().SampleRate)).Value
	}
	return nil
}

// discard drops frames from the front of c until the skip budget is spent.
func (p *BufferProvider) discard(c audio.Chunk) audio.Chunk {
	n := int64(c.Frames())
	if n <= p.skip {
		p.skip -= n
		return audio.Chunk{Format: c.Format}
	}
	cut := int(p.skip) * c.Format.Channels
	p.skip = 0
	return audio.Chunk{Data: c.Data[cut:], Format: c.Format}
}

func (p *BufferProvider) fail(err error) {
	p.log.Warn("playback: decode failed, ending item",
		"path", p.track.Path,
		"consumed_through", p.pts,
		"err", err,
	)
	p.metrics.RecordDecodeFailure(context.Background(), p.track.FormatLabel)
	p.finish()
}

func (p *BufferProvider) finish() {
	p.done = true
	p.Close()
}

// Close releases the decode session. It is idempotent and safe to call on a
// provider that was never opened.
func (p *BufferProvider) Close() {
	p.done = true
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		p.log.Debug("playback: close decode session", "path", p.track.Path, "err", err)
	}
	p.session = nil
}
