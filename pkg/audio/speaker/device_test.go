package speaker

import (
	"math"
	"testing"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

var testFormat = audio.Format{SampleRate: 1000, Channels: 2, BitDepth: 16}

func buffer(startFrame int64, frames int, v float32) audio.Buffer {
	data := make([]float32, frames*testFormat.Channels)
	for i := range data {
		data[i] = v
	}
	return audio.Buffer{
		Data:     data,
		Format:   testFormat,
		Frames:   frames,
		PTS:      mediatime.New(startFrame, 1000),
		Duration: mediatime.New(int64(frames), 1000),
	}
}

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d, err := newDevice(testFormat, opts...)
	if err != nil {
		t.Fatalf("newDevice: %v", err)
	}
	return d
}

func TestStream_SilentWhileHalted(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	d.Enqueue(buffer(0, 100, 0.5))

	out := make([][2]float64, 50)
	n, ok := d.stream(out)
	if n != 50 || !ok {
		t.Fatalf("stream = %d, %v, want 50, true", n, ok)
	}
	if out[0] != [2]float64{} {
		t.Errorf("sample = %v, want silence", out[0])
	}
	if got := d.CurrentTime(); !got.IsZero() {
		t.Errorf("CurrentTime = %v, want 0", got)
	}
}

func TestStream_AdvancesClockAcrossBuffers(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	d.Enqueue(buffer(0, 30, 0.25))
	d.Enqueue(buffer(30, 30, 0.75))
	d.SetRate(1, mediatime.Zero)

	out := make([][2]float64, 50)
	d.stream(out)

	if got := d.CurrentTime(); !got.Equal(mediatime.New(50, 1000)) {
		t.Errorf("CurrentTime = %v, want 50ms", got)
	}
	if out[29][0] != 0.25 || out[30][1] != 0.75 {
		t.Errorf("samples at the seam = %v %v, want 0.25 then 0.75", out[29], out[30])
	}
	if got := d.queue.Len(); got != 1 {
		t.Errorf("queued buffers = %d, want 1", got)
	}
}

func TestStream_MonoIsDuplicated(t *testing.T) {
	t.Parallel()

	mono := audio.Format{SampleRate: 1000, Channels: 1}
	d, err := newDevice(mono)
	if err != nil {
		t.Fatal(err)
	}
	d.Enqueue(audio.Buffer{
		Data:     []float32{0.1, 0.2},
		Format:   mono,
		Frames:   2,
		PTS:      mediatime.New(0, 1000),
		Duration: mediatime.New(2, 1000),
	})
	d.SetRate(1, mediatime.Zero)

	out := make([][2]float64, 2)
	d.stream(out)
	if out[1][0] != out[1][1] || math.Abs(out[1][0]-0.2) > 1e-6 {
		t.Errorf("sample = %v, want 0.2 on both channels", out[1])
	}
}

func TestStream_StartsMidBufferAfterSeek(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	d.Enqueue(buffer(100, 100, 0.5))
	d.SetRate(1, mediatime.New(150, 1000))

	out := make([][2]float64, 60)
	d.stream(out)

	if got := d.CurrentTime(); !got.Equal(mediatime.New(200, 1000)) {
		t.Errorf("CurrentTime = %v, want 200ms", got)
	}
	if out[49][0] != 0.5 || out[50] != [2]float64{} {
		t.Errorf("samples = %v %v, want audio then padding", out[49], out[50])
	}
}

func TestDispatch_UnderrunAutoFlush(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t, WithUnderrunAutoFlush(true))
	var restart []mediatime.Time
	d.OnAutoFlush(func(at mediatime.Time) { restart = append(restart, at) })
	readyCalls := 0
	d.RequestDataWhenReady(func() { readyCalls++ })
	readyCalls = 0

	d.Enqueue(buffer(0, 20, 0.5))
	d.SetRate(1, mediatime.Zero)

	out := make([][2]float64, 50)
	d.stream(out)
	d.dispatch()
	d.stream(out)
	d.dispatch()

	if len(restart) != 1 || !restart[0].Equal(mediatime.New(20, 1000)) {
		t.Errorf("auto-flush restarts = %v, want one at 20ms", restart)
	}
	if got := d.Underruns(); got != 1 {
		t.Errorf("Underruns = %d, want 1", got)
	}
	if readyCalls != 2 {
		t.Errorf("ready calls = %d, want 2", readyCalls)
	}
}

func TestDispatch_RepositionDropsPendingAutoFlush(t *testing.T) {
	t.Parallel()

	for name, reset := range map[string]func(d *Device){
		"set rate": func(d *Device) { d.SetRate(1, mediatime.New(5, 1)) },
		"flush":    func(d *Device) { d.Flush() },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := newTestDevice(t, WithUnderrunAutoFlush(true))
			var restart []mediatime.Time
			d.OnAutoFlush(func(at mediatime.Time) { restart = append(restart, at) })
			d.RequestDataWhenReady(func() {})

			d.Enqueue(buffer(0, 20, 0.5))
			d.SetRate(1, mediatime.Zero)
			d.stream(make([][2]float64, 50))

			// The timeline moved before the audio thread's report was
			// dispatched; restarting at 20ms would rewind the new queue.
			reset(d)
			d.dispatch()

			if len(restart) != 0 {
				t.Errorf("auto-flush restarts = %v, want none", restart)
			}
		})
	}
}

func TestDispatch_FiresObserversOffAudioThread(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	fired := 0
	d.AddBoundaryObserver([]mediatime.Time{mediatime.New(40, 1000)}, func() { fired++ })
	d.Enqueue(buffer(0, 100, 0.5))
	d.SetRate(1, mediatime.Zero)

	d.stream(make([][2]float64, 50))
	if fired != 0 {
		t.Fatal("boundary fired inside the streamer")
	}
	d.dispatch()
	d.dispatch()
	if fired != 1 {
		t.Errorf("boundary fired %d times, want 1", fired)
	}
}

func TestApplyVolume(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	tests := []struct {
		v          float64
		wantSilent bool
		wantExp    float64
	}{
		{v: 1, wantExp: 0},
		{v: 0.5, wantExp: -1},
		{v: 0, wantSilent: true, wantExp: -1},
	}
	for _, tt := range tests {
		applyVolume(d.vol, tt.v)
		if d.vol.Silent != tt.wantSilent || d.vol.Volume != tt.wantExp {
			t.Errorf("applyVolume(%v): silent=%v exp=%v, want %v %v",
				tt.v, d.vol.Silent, d.vol.Volume, tt.wantSilent, tt.wantExp)
		}
	}
}

func TestNewDevice_RejectsSurround(t *testing.T) {
	t.Parallel()

	if _, err := newDevice(audio.Format{SampleRate: 48000, Channels: 6}); err == nil {
		t.Error("newDevice accepted 6 channels")
	}
}
