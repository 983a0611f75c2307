// Package config provides the configuration schema, loader, watcher, and
// output-driver registry for the gapless daemon.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/gapless/pkg/audio"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Driver names an output device implementation.
type Driver string

const (
	// DriverSpeaker plays through the system sound card.
	DriverSpeaker Driver = "speaker"

	// DriverVirtual renders into nothing against a wall-clock timeline.
	DriverVirtual Driver = "virtual"
)

// IsValid reports whether d is a built-in driver.
func (d Driver) IsValid() bool {
	return d == DriverSpeaker || d == DriverVirtual
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Output   OutputEntry    `yaml:"output"`
	Library  LibraryConfig  `yaml:"library"`
	Observe  ObserveConfig  `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8420").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the control API. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// PlaybackConfig tunes the scheduler and the decode pipeline.
type PlaybackConfig struct {
	// SampleRate is the output sample rate in Hz. Every track is resampled
	// to it.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the output channel count: 1 or 2.
	Channels int `yaml:"channels"`

	// Priming is how much audio is decoded synchronously before playback
	// starts after a queue replacement.
	Priming time.Duration `yaml:"priming"`

	// ReportInterval is the period of offset notifications.
	ReportInterval time.Duration `yaml:"report_interval"`

	// Lookahead is how much decoded audio the output keeps queued.
	Lookahead time.Duration `yaml:"lookahead"`

	// ChunkFrames is the decode granularity in frames.
	ChunkFrames int `yaml:"chunk_frames"`

	// Volume is the start-up gain in [0, 1]. Nil means the default.
	Volume *float64 `yaml:"volume"`
}

// Format returns the output PCM format.
func (p PlaybackConfig) Format() audio.Format {
	return audio.Format{SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: 32}
}

// InitialVolume returns Volume or the default gain.
func (p PlaybackConfig) InitialVolume() float64 {
	if p.Volume == nil {
		return DefaultVolume
	}
	return *p.Volume
}

// OutputEntry selects and configures the output device. The Driver field is
// used to look up the constructor in the [Registry].
type OutputEntry struct {
	// Driver selects the registered output implementation.
	Driver Driver `yaml:"driver"`

	// Buffer is the sound card buffer length (speaker only).
	Buffer time.Duration `yaml:"buffer"`

	// Tick is the wall-clock polling period (virtual only).
	Tick time.Duration `yaml:"tick"`

	// UnderrunAutoFlush makes the device discard its queue when it runs dry.
	// Nil means enabled.
	UnderrunAutoFlush *bool `yaml:"underrun_autoflush"`

	// Options holds driver-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AutoFlush reports whether underrun auto-flush is enabled.
func (o OutputEntry) AutoFlush() bool {
	return o.UnderrunAutoFlush == nil || *o.UnderrunAutoFlush
}

// LibraryConfig controls the media library scan.
type LibraryConfig struct {
	// Paths lists directories scanned recursively for tracks. A leading "~"
	// expands to the user's home directory.
	Paths []string `yaml:"paths"`

	// Extensions lists the file extensions picked up by the scan, without
	// the dot.
	Extensions []string `yaml:"extensions"`
}

// ObserveConfig controls metrics and tracing.
type ObserveConfig struct {
	// Metrics enables the Prometheus endpoint. Nil means enabled.
	Metrics *bool `yaml:"metrics"`

	// ServiceName is reported as the OpenTelemetry service name.
	ServiceName string `yaml:"service_name"`
}

// MetricsEnabled reports whether /metrics should be served.
func (o ObserveConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}
