package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/gapless/pkg/audio"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]float32{0.1, 0.2, 0.3})
	want := []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDownmixToMono(t *testing.T) {
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.DownmixToMono([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 1, 48000, 48000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Upsample(t *testing.T) {
	// 0 → 1 ramp at 2 Hz upsampled to 4 Hz.
	out := audio.Resample([]float32{0, 1}, 1, 2, 4)
	if len(out) != 4 {
		t.Fatalf("length = %d, want 4", len(out))
	}
	if !approxEqual(out[1], 0.5) {
		t.Errorf("interpolated sample = %f, want 0.5", out[1])
	}
}

func TestResample_ZeroRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 1, 0, 48000); len(out) != len(in) {
		t.Errorf("zero source rate should return input unchanged, got %d samples", len(out))
	}
}

func TestConverter_NoOp(t *testing.T) {
	conv := audio.NewConverter(audio.Format{SampleRate: 44100, Channels: 2})
	in := audio.Chunk{
		Data:   []float32{0.1, 0.2, 0.3, 0.4},
		Format: audio.Format{SampleRate: 44100, Channels: 2},
	}
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should return the chunk unchanged")
	}
}

func TestConverter_MonoToStereo(t *testing.T) {
	conv := audio.NewConverter(audio.Format{SampleRate: 44100, Channels: 2})
	out := conv.Convert(audio.Chunk{
		Data:   []float32{0.5, -0.5},
		Format: audio.Format{SampleRate: 44100, Channels: 1, BitDepth: 16},
	})
	if out.Format.Channels != 2 {
		t.Fatalf("channels = %d, want 2", out.Format.Channels)
	}
	if out.Frames() != 2 {
		t.Errorf("frames = %d, want 2", out.Frames())
	}
	if out.Format.BitDepth != 16 {
		t.Errorf("bit depth = %d, want source depth 16", out.Format.BitDepth)
	}
}

func TestConverter_ChunkedResampleKeepsExactLength(t *testing.T) {
	// 48 kHz → 44.1 kHz in awkward 1000-frame chunks. Total source is exactly
	// one second, so output must be exactly 44100 frames.
	conv := audio.NewConverter(audio.Format{SampleRate: 44100, Channels: 2})
	total := 0
	for range 48 {
		out := conv.Convert(audio.Chunk{
			Data:   make([]float32, 1000*2),
			Format: audio.Format{SampleRate: 48000, Channels: 2},
		})
		total += out.Frames()
	}
	if total != 44100 {
		t.Errorf("total frames = %d, want 44100", total)
	}
}

func TestConverter_MalformedChunk(t *testing.T) {
	conv := audio.NewConverter(audio.Format{SampleRate: 44100, Channels: 2})
	out := conv.Convert(audio.Chunk{
		Data:   []float32{0.1, 0.2, 0.3},
		Format: audio.Format{SampleRate: 44100, Channels: 2},
	})
	if len(out.Data) != 0 {
		t.Errorf("expected malformed chunk to be dropped, got %d samples", len(out.Data))
	}
}

func TestChunkDuration(t *testing.T) {
	c := audio.Chunk{
		Data:   make([]float32, 4410*2),
		Format: audio.Format{SampleRate: 44100, Channels: 2},
	}
	if got := c.Duration().Seconds(); got != 0.1 {
		t.Errorf("duration = %f, want 0.1", got)
	}
}
