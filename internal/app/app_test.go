package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/gapless/internal/app"
	"github.com/MrWong99/gapless/internal/config"
	"github.com/MrWong99/gapless/internal/control"
	"github.com/MrWong99/gapless/internal/observe"
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/mock"
	"github.com/MrWong99/gapless/pkg/audio/virtual"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// testConfig returns a validated config listening on a random port and
// scanning dir.
func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Output:  config.OutputEntry{Driver: config.DriverVirtual},
		Library: config.LibraryConfig{Paths: []string{dir}},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// library writes two empty files and a decoder that knows them.
func library(t *testing.T) (string, *mock.Decoder, []string) {
	t.Helper()
	dir := t.TempDir()
	dec := &mock.Decoder{Durations: map[string]mediatime.Time{}}
	var paths []string
	for _, name := range []string{"one.flac", "two.flac"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		dec.Durations[p] = mediatime.New(60, 1)
		paths = append(paths, p)
	}
	return dir, dec, paths
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// start runs a and returns its base URL. Run is stopped and Shutdown called
// at cleanup.
func start(t *testing.T, a *app.App) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return "http://" + a.Addr()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_ServesControlSurface(t *testing.T) {
	t.Parallel()
	dir, dec, paths := library(t)

	a, err := app.New(context.Background(), testConfig(t, dir),
		app.WithDecoder(dec),
		app.WithDevice(virtual.New(mock.DefaultFormat)),
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		})),
		app.WithLogger(discard()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n := a.Library().Len(); n != 2 {
		t.Fatalf("library has %d tracks, want 2", n)
	}
	base := start(t, a)

	eventually(t, "readiness", func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	body, _ := json.Marshal(control.QueueRequest{Paths: paths, FromIndex: 1})
	req, _ := http.NewRequest(http.MethodPut, base+"/v1/queue", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/queue: %v", err)
	}
	var st control.Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /v1/queue: %d %v", resp.StatusCode, err)
	}
	if st.State != "playing" || st.Index != 1 || st.Volume != config.DefaultVolume {
		t.Errorf("status = %+v, want playing at 1 with default volume", st)
	}

	for _, path := range []string{"/healthz", "/metrics", "/v1/status"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestApp_UnknownDriver(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, t.TempDir())
	cfg.Output.Driver = "jack"

	_, err := app.New(context.Background(), cfg,
		app.WithDecoder(&mock.Decoder{}),
		app.WithRegistry(config.NewRegistry()),
		app.WithMetrics(testMetrics(t)),
		app.WithLogger(discard()),
	)
	if !errors.Is(err, config.ErrDriverNotRegistered) {
		t.Errorf("err = %v, want ErrDriverNotRegistered", err)
	}
}

func TestApp_ClosesDeviceWhenListenFails(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	cfg := testConfig(t, t.TempDir())
	cfg.Server.ListenAddr = busy.Addr().String()

	var closed bool
	reg := config.NewRegistry()
	reg.Register(config.DriverVirtual, func(config.OutputEntry, config.PlaybackConfig) (audio.Device, error) {
		return &closeSpy{Device: virtual.New(mock.DefaultFormat), closed: &closed}, nil
	})

	_, err = app.New(context.Background(), cfg,
		app.WithDecoder(&mock.Decoder{}),
		app.WithRegistry(reg),
		app.WithMetrics(testMetrics(t)),
		app.WithLogger(discard()),
	)
	if err == nil {
		t.Fatal("expected a listen error")
	}
	if !closed {
		t.Error("device was not closed after a failed New")
	}
}

type closeSpy struct {
	*virtual.Device
	closed *bool
}

func (c *closeSpy) Close() error {
	*c.closed = true
	return c.Device.Close()
}

func TestApp_HotReload(t *testing.T) {
	t.Parallel()
	dir, dec, _ := library(t)
	path := filepath.Join(t.TempDir(), "gapless.yaml")
	write := func(level string, volume float64) {
		t.Helper()
		yaml := "server:\n  listen_addr: \"127.0.0.1:0\"\n  log_level: " + level + "\n" +
			"output:\n  driver: virtual\n" +
			"playback:\n  volume: " + jsonNumber(volume) + "\n" +
			"library:\n  paths: [\"" + dir + "\"]\n"
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("info", 0.5)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var level slog.LevelVar
	dev := virtual.New(mock.DefaultFormat)
	a, err := app.New(context.Background(), cfg,
		app.WithDecoder(dec),
		app.WithDevice(dev),
		app.WithMetrics(testMetrics(t)),
		app.WithLogger(discard()),
		app.WithLevelVar(&level),
		app.WithConfigPath(path),
		app.WithWatchInterval(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start(t, a)

	write("debug", 0.2)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	eventually(t, "volume change", func() bool { return dev.Volume() == 0.2 })
	eventually(t, "log level change", func() bool { return level.Level() == slog.LevelDebug })
	eventually(t, "player volume", func() bool { return a.Player().Status().Volume == 0.2 })
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
