package bootstrap

import (
	"go.uber.org/zap"

	"pairchat/internal/audio"
	"pairchat/internal/config"
	"pairchat/internal/logging"
	"pairchat/internal/message"
	"pairchat/internal/ports"
	"pairchat/internal/relay"
	"pairchat/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.CaptureController
	Packager   *message.Packager
	Session    *relay.Client
	Config     config.Config
	Logger     *zap.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return Services{}, err
	}

	session := relay.NewClient(relay.Config{
		URL:         cfg.Relay.URL,
		PairingCode: cfg.Relay.PairingCode,
		SendTimeout: cfg.Relay.SendTimeout,

		InitialBackoff: cfg.Relay.ReconnectBackoff,
		MaxBackoff:     cfg.Relay.ReconnectMaxBackoff,
	}, logger.Named("relay"))

	device := newAudioDevice(cfg.Audio, logger)
	encoder := audio.NewFFMPEGEncoder(cfg.Audio.FFMPEGCommand, logger.Named("encoder"))
	packager := message.NewPackager(session, eventSink, logger.Named("message"))

	controller := usecase.NewCaptureController(
		audio.NewEnvironment(device, encoder, cfg.Relay.URL),
		device,
		encoder,
		session,
		packager,
		eventSink,
		logger.Named("capture"),
		usecase.Config{
			Constraints:       usecase.DefaultConstraints(),
			Timeslice:         cfg.Capture.Timeslice,
			TickInterval:      cfg.Capture.TickInterval,
			PermissionTimeout: cfg.Capture.PermissionTimeout,
		},
	)

	logger.Info("services assembled",
		zap.String("backend", cfg.Audio.Backend),
		zap.String("relay", cfg.Relay.URL),
	)

	return Services{
		Controller: controller,
		Packager:   packager,
		Session:    session,
		Config:     cfg,
		Logger:     logger,
	}, nil
}

func newAudioDevice(cfg config.AudioConfig, logger *zap.Logger) ports.AudioDevice {
	if cfg.Backend == config.BackendPortAudio {
		return audio.NewPortAudioCapture(logger.Named("portaudio"))
	}
	return audio.NewFFMPEGCapture(audio.FFMPEGCaptureConfig{
		Command:          cfg.FFMPEGCommand,
		InputFormat:      cfg.InputFormat,
		InputDevice:      cfg.InputDevice,
		EchoCancelDevice: cfg.EchoCancelSource,
	})
}
