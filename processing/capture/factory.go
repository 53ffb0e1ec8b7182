package capture

import (
	"go.uber.org/zap"

	"plantdoctor/internal/config"
)

// NewStreamer builds the camera Source described by cfg.
func NewStreamer(cfg *config.Config, logger *zap.Logger) *Source {
	return NewSource(
		WebcamOpener(cfg.Camera.Width, cfg.Camera.Height),
		WithProbeCount(cfg.Camera.ProbeCount),
		WithProbeDelay(cfg.GetProbeDelay()),
		WithLogger(logger),
	)
}
