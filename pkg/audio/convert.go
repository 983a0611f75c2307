package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts the chunks of one decode stream to a target format. It
// logs a warning on the first format mismatch and on the first malformed
// chunk.
//
// Resampling is stateful: the converter tracks how many source frames it has
// seen so that the total output length is exactly floor(src*dst/srcRate)
// regardless of chunk boundaries. Create one per stream; not designed for
// shared use across goroutines.
type Converter struct {
	Target Format

	srcFrames int64
	dstFrames int64
	srcRate   int
	last      []float32

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// NewConverter returns a Converter producing target.
func NewConverter(target Format) *Converter {
	return &Converter{Target: target}
}

// Convert converts c to the target format. If c already matches, it is
// returned unchanged (zero allocation). Conversion order: channel mapping to
// the target layout first, then resampling.
func (cv *Converter) Convert(c Chunk) Chunk {
	if c.Format.Channels <= 0 || len(c.Data)%c.Format.Channels != 0 {
		cv.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: sample count not a multiple of channel count, dropping chunk",
				"samples", len(c.Data),
				"channels", c.Format.Channels,
			)
		})
		return Chunk{Format: cv.Target}
	}

	if c.Format.SampleRate == cv.Target.SampleRate && c.Format.Channels == cv.Target.Channels {
		return c
	}

	cv.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(c.Format.SampleRate, c.Format.Channels),
			"to", formatString(cv.Target.SampleRate, cv.Target.Channels),
		)
	})

	data := c.Data
	switch {
	case c.Format.Channels == cv.Target.Channels:
	case c.Format.Channels == 1 && cv.Target.Channels == 2:
		data = MonoToStereo(data)
	case cv.Target.Channels == 1:
		data = DownmixToMono(data, c.Format.Channels)
	default:
		data = remapChannels(data, c.Format.Channels, cv.Target.Channels)
	}

	if c.Format.SampleRate != cv.Target.SampleRate {
		data = cv.resample(data, c.Format.SampleRate)
	}

	return Chunk{
		Data: data,
		Format: Format{
			SampleRate: cv.Target.SampleRate,
			Channels:   cv.Target.Channels,
			BitDepth:   c.Format.BitDepth,
		},
	}
}

// resample converts interleaved data (already in the target channel layout)
// from srcRate to the target rate using linear interpolation across chunk
// boundaries.
func (cv *Converter) resample(data []float32, srcRate int) []float32 {
	ch := cv.Target.Channels
	dstRate := cv.Target.SampleRate
	if srcRate <= 0 || dstRate <= 0 {
		return data
	}
	if cv.srcRate != srcRate {
		// New source rate: restart the frame accounting.
		cv.srcRate = srcRate
		cv.srcFrames, cv.dstFrames = 0, 0
		cv.last = nil
	}

	n := int64(len(data) / ch)
	start := cv.srcFrames
	cv.srcFrames += n
	total := cv.srcFrames * int64(dstRate) / int64(srcRate)
	count := total - cv.dstFrames
	if count <= 0 {
		cv.keepLast(data)
		return nil
	}

	out := make([]float32, int(count)*ch)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range count {
		pos := float64(cv.dstFrames+i) * ratio
		idx := int64(pos)
		frac := float32(pos - float64(idx))
		local := idx - start
		for c := range ch {
			s0 := cv.sampleAt(data, local, c)
			s1 := cv.sampleAt(data, local+1, c)
			out[int(i)*ch+c] = s0*(1-frac) + s1*frac
		}
	}
	cv.dstFrames = total
	cv.keepLast(data)
	return out
}

// sampleAt returns channel c of local frame idx, using the previous chunk's
// final frame for idx < 0 and clamping past the end.
func (cv *Converter) sampleAt(data []float32, idx int64, c int) float32 {
	ch := cv.Target.Channels
	frames := int64(len(data) / ch)
	if idx < 0 {
		if cv.last != nil {
			return cv.last[c]
		}
		idx = 0
	}
	if idx >= frames {
		idx = frames - 1
	}
	if idx < 0 {
		return 0
	}
	return data[int(idx)*ch+c]
}

func (cv *Converter) keepLast(data []float32) {
	ch := cv.Target.Channels
	if len(data) < ch {
		return
	}
	if cv.last == nil {
		cv.last = make([]float32, ch)
	}
	copy(cv.last, data[len(data)-ch:])
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(data []float32) []float32 {
	out := make([]float32, len(data)*2)
	for i, s := range data {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// DownmixToMono averages all channels of each frame.
func DownmixToMono(data []float32, channels int) []float32 {
	if channels <= 1 {
		return data
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += data[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// remapChannels keeps the first min(src, dst) channels and fills the rest
// with silence.
func remapChannels(data []float32, src, dst int) []float32 {
	frames := len(data) / src
	out := make([]float32, frames*dst)
	n := min(src, dst)
	for i := range frames {
		copy(out[i*dst:i*dst+n], data[i*src:i*src+n])
	}
	return out
}

// Resample converts interleaved PCM from srcRate to dstRate using linear
// interpolation. It is stateless; use a [Converter] for chunked streams.
func Resample(data []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return data
	}
	cv := Converter{Target: Format{SampleRate: dstRate, Channels: channels}}
	return cv.resample(data, srcRate)
}

// formatString returns a human-readable format description like "48kHz stereo".
func formatString(sampleRate, channels int) string {
	ch := "mono"
	switch channels {
	case 2:
		ch = "stereo"
	case 1:
	default:
		ch = fmt.Sprintf("%dch", channels)
	}
	if sampleRate%1000 == 0 {
		return fmt.Sprintf("%dkHz %s", sampleRate/1000, ch)
	}
	return fmt.Sprintf("%.1fkHz %s", float64(sampleRate)/1000, ch)
}
