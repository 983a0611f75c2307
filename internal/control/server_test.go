package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/gapless/internal/control"
	"github.com/MrWong99/gapless/internal/library"
	"github.com/MrWong99/gapless/internal/observe"
	"github.com/MrWong99/gapless/pkg/audio/mock"
	"github.com/MrWong99/gapless/pkg/audio/virtual"
	"github.com/MrWong99/gapless/pkg/mediatime"
	"github.com/MrWong99/gapless/pkg/playback"
)

type fixture struct {
	t      *testing.T
	srv    *httptest.Server
	player *playback.Player
	dev    *virtual.Device
	reader *sdkmetric.ManualReader
	paths  map[string]string
}

// newFixture serves a player over a manually clocked virtual device with a
// library of three tracks: a (10s), b (20s), c (30s).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	dec := &mock.Decoder{Durations: map[string]mediatime.Time{}}
	paths := map[string]string{}
	for name, secs := range map[string]int64{"a": 10, "b": 20, "c": 30} {
		p := filepath.Join(dir, name+".wav")
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		dec.Durations[p] = mediatime.New(secs, 1)
		paths[name] = p
	}

	lib := library.New(dec)
	if err := lib.Scan(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	dev := virtual.New(mock.DefaultFormat)
	sched := playback.New(dev, dec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	player := playback.NewPlayer(sched, nil)
	srv := httptest.NewServer(control.New(player, lib, control.WithMetrics(m)).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = mp.Shutdown(context.Background())
	})
	return &fixture{t: t, srv: srv, player: player, dev: dev, reader: reader, paths: paths}
}

func (f *fixture) do(method, path string, body any) (int, []byte) {
	f.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			f.t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		f.t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func (f *fixture) status(method, path string, body any) control.Status {
	f.t.Helper()
	code, data := f.do(method, path, body)
	if code != http.StatusOK {
		f.t.Fatalf("%s %s: status %d: %s", method, path, code, data)
	}
	var st control.Status
	if err := json.Unmarshal(data, &st); err != nil {
		f.t.Fatalf("decode status: %v", err)
	}
	return st
}

func (f *fixture) queue(from int, offset float64, names ...string) control.Status {
	f.t.Helper()
	req := control.QueueRequest{FromIndex: from, OffsetSeconds: offset}
	for _, n := range names {
		req.Paths = append(req.Paths, f.paths[n])
	}
	return f.status(http.MethodPut, "/v1/queue", req)
}

func TestServer_QueueAndNavigate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	st := f.queue(1, 4, "a", "b", "c")
	if st.State != "playing" || st.Index != 1 || st.PlaylistLen != 3 {
		t.Fatalf("after queue: %+v", st)
	}
	if st.Track == nil || st.Track.Path != f.paths["b"] {
		t.Fatalf("track = %+v, want b", st.Track)
	}
	if st.Position != 4 || st.Duration != 20 {
		t.Errorf("position/duration = %v/%v, want 4/20", st.Position, st.Duration)
	}

	if st = f.status(http.MethodPost, "/v1/next", nil); st.Index != 2 {
		t.Errorf("after next: index %d, want 2", st.Index)
	}
	if st = f.status(http.MethodPost, "/v1/pause", nil); st.State != "paused" {
		t.Errorf("after pause: state %q, want paused", st.State)
	}
	if st = f.status(http.MethodPost, "/v1/previous", nil); st.Index != 1 || st.State != "paused" {
		t.Errorf("after previous: %+v, want paused at 1", st)
	}
	if st = f.status(http.MethodPost, "/v1/toggle", nil); st.State != "playing" {
		t.Errorf("after toggle: state %q, want playing", st.State)
	}
	if st = f.status(http.MethodPost, "/v1/stop", nil); st.State != "stopped" || st.Track != nil {
		t.Errorf("after stop: %+v", st)
	}
	if st = f.status(http.MethodPost, "/v1/play", nil); st.Index != 0 || st.State != "playing" {
		t.Errorf("play after stop: %+v, want playing at 0", st)
	}

	code, data := f.do(http.MethodGet, "/v1/queue", nil)
	var q control.Queue
	if code != http.StatusOK || json.Unmarshal(data, &q) != nil {
		t.Fatalf("GET /v1/queue: %d %s", code, data)
	}
	if len(q.Tracks) != 3 || q.Index != 0 || q.Tracks[2].Title != "c" {
		t.Errorf("queue = %+v", q)
	}
}

func TestServer_Seek(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.queue(0, 0, "a", "b", "c")

	off := 7.5
	if st := f.status(http.MethodPost, "/v1/seek", control.SeekRequest{OffsetSeconds: &off}); st.Position != 7.5 {
		t.Errorf("offset seek: position %v, want 7.5", st.Position)
	}
	pct := 0.5
	if st := f.status(http.MethodPost, "/v1/seek", control.SeekRequest{Percentage: &pct}); st.Position != 5 {
		t.Errorf("percentage seek: position %v, want 5", st.Position)
	}
	idx := 2
	if st := f.status(http.MethodPost, "/v1/seek", control.SeekRequest{Index: &idx}); st.Index != 2 || st.Position != 0 {
		t.Errorf("index seek: %+v", st)
	}

	bad := []struct {
		name string
		body any
	}{
		{"none", control.SeekRequest{}},
		{"two", control.SeekRequest{OffsetSeconds: &off, Index: &idx}},
		{"percentage out of range", map[string]float64{"percentage": 50}},
		{"unknown field", map[string]int{"position": 3}},
	}
	for _, tt := range bad {
		if code, data := f.do(http.MethodPost, "/v1/seek", tt.body); code != http.StatusBadRequest {
			t.Errorf("%s: status %d (%s), want 400", tt.name, code, data)
		}
	}
}

func TestServer_ContinueKeepsCurrentTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	before := f.queue(1, 0, "a", "b")

	st := f.status(http.MethodPost, "/v1/queue/continue", control.ContinueRequest{
		Paths: []string{f.paths["c"], f.paths["a"], f.paths["b"]},
	})
	if st.Index != 2 || st.PlaylistLen != 3 {
		t.Errorf("after continue: %+v, want index 2 of 3", st)
	}
	if st.Track == nil || st.Track.ID != before.Track.ID {
		t.Errorf("continue changed the current track: %+v", st.Track)
	}
}

func TestServer_QueueErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"disallowed extension", control.QueueRequest{Paths: []string{"/tmp/notes.txt"}}, http.StatusBadRequest},
		{"unprobeable file", control.QueueRequest{Paths: []string{"/nowhere/x.flac"}}, http.StatusUnprocessableEntity},
		{"negative offset", control.QueueRequest{Paths: []string{f.paths["a"]}, OffsetSeconds: -1}, http.StatusBadRequest},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, data := f.do(http.MethodPut, "/v1/queue", tt.body)
		if code != tt.want {
			t.Errorf("%s: status %d, want %d", tt.name, code, tt.want)
		}
		var e control.Error
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			t.Errorf("%s: body %s is not an error object", tt.name, data)
		}
	}

	if st := f.queue(0, 0); st.State != "stopped" || st.PlaylistLen != 0 {
		t.Errorf("empty queue: %+v, want stopped", st)
	}
}

func TestServer_Volume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v := 0.3
	if st := f.status(http.MethodPut, "/v1/volume", control.VolumeRequest{Volume: &v}); st.Volume != 0.3 {
		t.Errorf("volume = %v, want 0.3", st.Volume)
	}
	if got := f.dev.Volume(); got != 0.3 {
		t.Errorf("device volume = %v, want 0.3", got)
	}
	for _, body := range []any{control.VolumeRequest{}, map[string]float64{"volume": 1.5}} {
		if code, _ := f.do(http.MethodPut, "/v1/volume", body); code != http.StatusBadRequest {
			t.Errorf("PUT /v1/volume %v: status %d, want 400", body, code)
		}
	}
}

func TestServer_Library(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	code, data := f.do(http.MethodGet, "/v1/library?q=b", nil)
	var res control.LibraryResult
	if code != http.StatusOK || json.Unmarshal(data, &res) != nil {
		t.Fatalf("GET /v1/library: %d %s", code, data)
	}
	if len(res.Results) != 1 || res.Results[0].Track.Path != f.paths["b"] {
		t.Errorf("results = %+v, want b only", res.Results)
	}

	code, data = f.do(http.MethodGet, "/v1/library?limit=2", nil)
	if code != http.StatusOK || json.Unmarshal(data, &res) != nil || len(res.Results) != 2 {
		t.Errorf("limit=2: %d %s", code, data)
	}
	if code, _ := f.do(http.MethodGet, "/v1/library?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("limit=x: status %d, want 400", code)
	}
}

func TestServer_RecordsCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.queue(0, 0, "a")
	f.do(http.MethodPut, "/v1/volume", map[string]float64{"volume": 9})

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gapless.commands" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				cmd, _ := dp.Attributes.Value("command")
				st, _ := dp.Attributes.Value("status")
				got[cmd.AsString()+"/"+st.AsString()] += dp.Value
			}
		}
	}
	if got["replace_queue/ok"] != 1 || got["volume/error"] != 1 {
		t.Errorf("commands = %v, want replace_queue/ok=1 volume/error=1", got)
	}
}

func TestServer_EventStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.queue(0, 0, "a", "b", "c")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() control.Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var ev control.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	}

	first := read()
	if first.Type != control.EventTypeStatus || first.Status == nil || first.Status.Index != 0 {
		t.Fatalf("first message = %+v, want status at index 0", first)
	}

	f.status(http.MethodPost, "/v1/next", nil)
	for {
		ev := read()
		if ev.Type != playback.ItemChanged.String() {
			continue
		}
		if ev.Index == nil || *ev.Index != 1 || ev.Track == nil || ev.Track.Path != f.paths["b"] {
			t.Errorf("item_changed = %+v, want b at index 1", ev)
		}
		break
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
