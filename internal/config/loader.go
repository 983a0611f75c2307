package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/gapless/pkg/audio/decode"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8420"
	DefaultSampleRate     = 44100
	DefaultChannels       = 2
	DefaultPriming        = 250 * time.Millisecond
	DefaultReportInterval = 100 * time.Millisecond
	DefaultLookahead      = 2 * time.Second
	DefaultChunkFrames    = 4096
	DefaultVolume         = 0.8
	DefaultBuffer         = 100 * time.Millisecond
	DefaultTick           = 10 * time.Millisecond
	DefaultServiceName    = "gapless"
)

// DefaultExtensions is the scan filter used when library.extensions is empty.
var DefaultExtensions = []string{"mp3", "flac", "wav", "ogg"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	pb := &cfg.Playback
	if pb.SampleRate == 0 {
		pb.SampleRate = DefaultSampleRate
	}
	if pb.Channels == 0 {
		pb.Channels = DefaultChannels
	}
	if pb.Priming == 0 {
		pb.Priming = DefaultPriming
	}
	if pb.ReportInterval == 0 {
		pb.ReportInterval = DefaultReportInterval
	}
	if pb.Lookahead == 0 {
		pb.Lookahead = DefaultLookahead
	}
	if pb.ChunkFrames == 0 {
		pb.ChunkFrames = DefaultChunkFrames
	}
	if pb.Volume == nil {
		v := DefaultVolume
		pb.Volume = &v
	}

	if cfg.Output.Driver == "" {
		cfg.Output.Driver = DriverSpeaker
	}
	if cfg.Output.Buffer == 0 {
		cfg.Output.Buffer = DefaultBuffer
	}
	if cfg.Output.Tick == 0 {
		cfg.Output.Tick = DefaultTick
	}

	if len(cfg.Library.Extensions) == 0 {
		cfg.Library.Extensions = slices.Clone(DefaultExtensions)
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Playback
	pb := cfg.Playback
	if pb.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must be positive", pb.SampleRate))
	}
	if pb.Channels != 1 && pb.Channels != 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d is invalid; valid values: 1, 2", pb.Channels))
	}
	if pb.Priming < 0 {
		errs = append(errs, fmt.Errorf("playback.priming %s must not be negative", pb.Priming))
	}
	if pb.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("playback.report_interval %s must be positive", pb.ReportInterval))
	}
	if pb.Lookahead <= 0 {
		errs = append(errs, fmt.Errorf("playback.lookahead %s must be positive", pb.Lookahead))
	}
	if pb.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("playback.chunk_frames %d must be positive", pb.ChunkFrames))
	}
	if v := pb.InitialVolume(); v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", v))
	}

	// Output
	if cfg.Output.Driver != "" && !cfg.Output.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("output.driver %q is invalid; valid values: speaker, virtual", cfg.Output.Driver))
	}
	if cfg.Output.Buffer < 0 {
		errs = append(errs, fmt.Errorf("output.buffer %s must not be negative", cfg.Output.Buffer))
	}

	// Library
	for i, ext := range cfg.Library.Extensions {
		prefix := fmt.Sprintf("library.extensions[%d]", i)
		e := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		switch {
		case e == "":
			errs = append(errs, fmt.Errorf("%s is empty", prefix))
		case !slices.Contains(decode.AllowedExtensions, e):
			errs = append(errs, fmt.Errorf("%s %q is not a supported audio extension", prefix, ext))
		}
	}
	for i, p := range cfg.Library.Paths {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("library.paths[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}
