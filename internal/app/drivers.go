package app

import (
	"log/slog"

	"github.com/MrWong99/gapless/internal/config"
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/speaker"
	"github.com/MrWong99/gapless/pkg/audio/virtual"
)

// DefaultRegistry returns a registry with the built-in output drivers.
func DefaultRegistry(log *slog.Logger) *config.Registry {
	reg := config.NewRegistry()
	reg.Register(config.DriverSpeaker, func(o config.OutputEntry, pb config.PlaybackConfig) (audio.Device, error) {
		return speaker.New(pb.Format(),
			speaker.WithBuffer(o.Buffer),
			speaker.WithLookahead(pb.Lookahead),
			speaker.WithUnderrunAutoFlush(o.AutoFlush()),
			speaker.WithLogger(log),
		)
	})
	reg.Register(config.DriverVirtual, func(o config.OutputEntry, pb config.PlaybackConfig) (audio.Device, error) {
		return virtual.New(pb.Format(),
			virtual.WithRealtime(o.Tick),
			virtual.WithLookahead(pb.Lookahead),
			virtual.WithUnderrunAutoFlush(o.AutoFlush()),
			virtual.WithLogger(log),
		), nil
	})
	return reg
}
