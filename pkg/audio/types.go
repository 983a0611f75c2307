package audio

import "github.com/MrWong99/gapless/pkg/mediatime"

// Format describes the PCM layout of a decoded stream.
type Format struct {
	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitDepth is the precision of the source encoding. Informational only;
	// decoded samples are always float32.
	BitDepth int
}

// Valid reports whether f has a positive sample rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Chunk is a block of decoded PCM as returned by a [Session]. Data holds
// interleaved float32 samples in [-1, 1].
type Chunk struct {
	Data   []float32
	Format Format
}

// Frames returns the number of sample frames in c.
func (c Chunk) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Data) / c.Format.Channels
}

// Duration returns the exact playback length of c.
func (c Chunk) Duration() mediatime.Time {
	return mediatime.Frames(int64(c.Frames()), c.Format.SampleRate)
}

// Buffer is a timestamped block of PCM handed to a [Renderer]. Its Format
// always matches the renderer's output format.
type Buffer struct {
	// Data holds interleaved float32 samples.
	Data []float32

	// Format of Data.
	Format Format

	// Frames is the number of sample frames in Data.
	Frames int

	// PTS is the presentation timestamp on the renderer timeline.
	PTS mediatime.Time

	// Duration is the exact playback length, Frames/SampleRate.
	Duration mediatime.Time
}

// End returns the timestamp right after the last frame of b.
func (b Buffer) End() mediatime.Time {
	return b.PTS.Add(b.Duration)
}
