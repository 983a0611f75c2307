package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float64

	LibraryChanged  bool // paths or extensions differ
	NewLibraryPaths []string

	// RestartRequired names the changed settings that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VolumeChanged && !d.LibraryChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if ov, nv := old.Playback.InitialVolume(), new.Playback.InitialVolume(); ov != nv {
		d.VolumeChanged = true
		d.NewVolume = nv
	}

	if !slices.Equal(old.Library.Paths, new.Library.Paths) ||
		!slices.Equal(old.Library.Extensions, new.Library.Extensions) {
		d.LibraryChanged = true
		d.NewLibraryPaths = slices.Clone(new.Library.Paths)
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("playback.sample_rate", old.Playback.SampleRate != new.Playback.SampleRate)
	restart("playback.channels", old.Playback.Channels != new.Playback.Channels)
	restart("playback.priming", old.Playback.Priming != new.Playback.Priming)
	restart("playback.report_interval", old.Playback.ReportInterval != new.Playback.ReportInterval)
	restart("playback.lookahead", old.Playback.Lookahead != new.Playback.Lookahead)
	restart("playback.chunk_frames", old.Playback.ChunkFrames != new.Playback.ChunkFrames)
	restart("output", !equalOutput(old.Output, new.Output))
	restart("observe", old.Observe.MetricsEnabled() != new.Observe.MetricsEnabled() ||
		old.Observe.ServiceName != new.Observe.ServiceName)

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalOutput(a, b OutputEntry) bool {
	return a.Driver == b.Driver &&
		a.Buffer == b.Buffer &&
		a.Tick == b.Tick &&
		a.AutoFlush() == b.AutoFlush() &&
		len(a.Options) == len(b.Options)
}
