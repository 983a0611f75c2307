package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/gapless/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"tls half configured", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"negative sample rate", "playback:\n  sample_rate: -1\n", "playback.sample_rate"},
		{"surround", "playback:\n  channels: 6\n", "playback.channels"},
		{"volume too loud", "playback:\n  volume: 1.5\n", "playback.volume"},
		{"negative volume", "playback:\n  volume: -0.1\n", "playback.volume"},
		{"report interval", "playback:\n  report_interval: -1s\n", "playback.report_interval"},
		{"negative priming", "playback:\n  priming: -5ms\n", "playback.priming"},
		{"driver", "output:\n  driver: alsa\n", "output.driver"},
		{"empty extension", "library:\n  extensions: [mp3, \"\"]\n", "library.extensions[1]"},
		{"unknown extension", "library:\n  extensions: [txt]\n", "library.extensions[0]"},
		{"empty path", "library:\n  paths: [\" \"]\n", "library.paths[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_AcceptsDottedUpperCaseExtensions(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("library:\n  extensions: [.FLAC, Ogg]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
playback:
  channels: 3
  volume: 2
output:
  driver: jack
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "playback.channels", "playback.volume", "output.driver"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Playback: config.PlaybackConfig{SampleRate: 8000, ChunkFrames: 128},
		Output:   config.OutputEntry{Driver: config.DriverVirtual},
	}
	config.ApplyDefaults(cfg)

	if cfg.Playback.SampleRate != 8000 {
		t.Errorf("sample_rate: got %d, want 8000", cfg.Playback.SampleRate)
	}
	if cfg.Playback.ChunkFrames != 128 {
		t.Errorf("chunk_frames: got %d, want 128", cfg.Playback.ChunkFrames)
	}
	if cfg.Playback.Channels != config.DefaultChannels {
		t.Errorf("channels: got %d, want %d", cfg.Playback.Channels, config.DefaultChannels)
	}
	if cfg.Output.Driver != config.DriverVirtual {
		t.Errorf("driver: got %q, want virtual", cfg.Output.Driver)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("defaulted config should validate, got: %v", err)
	}
}
