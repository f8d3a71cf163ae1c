// Package bootstrap assembles the runtime dependency graph for one voice
// session from resolved configuration.
package bootstrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"voicewire/internal/audio"
	"voicewire/internal/config"
	"voicewire/internal/domain"
	"voicewire/internal/metrics"
	"voicewire/internal/ports"
	"voicewire/internal/providers/unmute"
	"voicewire/internal/telemetry"
	"voicewire/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Session  *usecase.Session
	Config   config.Config
	Registry *prometheus.Registry
}

// Build wires all backend dependencies for the current runtime. The config
// file at configPath is optional; pass an empty path to use environment and
// defaults only. eventSink and logger may be nil.
func Build(configPath string, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Services{}, configErr(err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	deps := usecase.Deps{
		Dialer:  unmute.NewDialer(logger, cfg.Session.WriteQueue),
		Capture: audio.NewFFmpegCapture(cfg.Audio.CaptureCommand),
		Events:  eventSink,
		Ring:    telemetry.NewRing(telemetry.DefaultCapacity),
		Metrics: metrics.New(registry),
		Logger:  logger,
	}

	if cfg.Audio.Playback {
		player, err := audio.NewFFplayPlayer(cfg.Audio.PlaybackCommand, cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err != nil {
			return Services{}, configErr(err)
		}
		decoder, err := audio.NewOpusDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err != nil {
			_ = player.Close()
			return Services{}, configErr(err)
		}
		deps.Playback = player
		deps.Decoder = decoder
	}

	session := usecase.New(usecase.Config{
		Dial: ports.DialConfig{
			ServerURL:    cfg.Server.URL,
			DialTimeout:  cfg.Server.DialTimeout(),
			PingInterval: cfg.Server.PingInterval(),
		},
		Capture: ports.CaptureConfig{
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			BitDepth:      cfg.Audio.BitDepth,
			FrameDuration: cfg.Audio.FrameDuration(),
			InputFormat:   cfg.Audio.InputFormat,
			InputDevice:   cfg.Audio.InputDevice,
		},
		Voice:        cfg.Session.Voice,
		Language:     cfg.Session.Language,
		PushToTalk:   cfg.Session.PushToTalk,
		PTTDebounce:  cfg.Session.PTTDebounce(),
		JitterWindow: cfg.Session.JitterWindow,
	}, deps)

	return Services{Session: session, Config: cfg, Registry: registry}, nil
}

// configErr classifies a wiring failure so callers get the same taxonomy
// the session reports at runtime.
func configErr(err error) error {
	return &usecase.Error{Code: domain.ErrorCodeConfiguration, Detail: err.Error()}
}
