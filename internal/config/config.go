package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendFFMPEG    = "ffmpeg"
	BackendPortAudio = "portaudio"
)

// Config stores runtime configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Audio   AudioConfig   `yaml:"audio"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`
}

type RelayConfig struct {
	URL                 string        `yaml:"url"`
	PairingCode         string        `yaml:"pairing_code"`
	SendTimeout         time.Duration `yaml:"send_timeout"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff"`
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff"`
}

type AudioConfig struct {
	Backend          string `yaml:"backend"`
	FFMPEGCommand    string `yaml:"ffmpeg_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	EchoCancelSource string `yaml:"echo_cancel_source"`
}

type CaptureConfig struct {
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	Timeslice         time.Duration `yaml:"timeslice"`
	TickInterval      time.Duration `yaml:"tick_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			URL:                 "ws://127.0.0.1:8787",
			SendTimeout:         15 * time.Second,
			ReconnectBackoff:    time.Second,
			ReconnectMaxBackoff: time.Minute,
		},
		Audio: AudioConfig{
			Backend:       BackendFFMPEG,
			FFMPEGCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
		},
		Capture: CaptureConfig{
			PermissionTimeout: 10 * time.Second,
			Timeslice:         100 * time.Millisecond,
			TickInterval:      time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and environment variables,
// in increasing priority.
func Load() (Config, error) {
	cfg := Default()

	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}

	cfg.Relay.URL = envOrDefault("PAIRCHAT_RELAY_URL", cfg.Relay.URL)
	cfg.Relay.PairingCode = envOrDefault("PAIRCHAT_PAIRING_CODE", cfg.Relay.PairingCode)
	cfg.Relay.SendTimeout = envOrDefaultMillis("PAIRCHAT_SEND_TIMEOUT_MS", cfg.Relay.SendTimeout)
	cfg.Relay.ReconnectBackoff = envOrDefaultMillis("PAIRCHAT_RECONNECT_BACKOFF_MS", cfg.Relay.ReconnectBackoff)
	cfg.Relay.ReconnectMaxBackoff = envOrDefaultMillis("PAIRCHAT_RECONNECT_MAX_BACKOFF_MS", cfg.Relay.ReconnectMaxBackoff)

	cfg.Audio.Backend = strings.ToLower(envOrDefault("PAIRCHAT_AUDIO_BACKEND", cfg.Audio.Backend))
	cfg.Audio.FFMPEGCommand = envOrDefault("PAIRCHAT_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand)
	cfg.Audio.InputFormat = envOrDefault("PAIRCHAT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("PAIRCHAT_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice, "default")
	cfg.Audio.EchoCancelSource = envOrDefault("PAIRCHAT_AUDIO_ECHO_CANCEL_SOURCE", cfg.Audio.EchoCancelSource)

	cfg.Capture.PermissionTimeout = envOrDefaultMillis("PAIRCHAT_PERMISSION_TIMEOUT_MS", cfg.Capture.PermissionTimeout)
	cfg.Capture.Timeslice = envOrDefaultMillis("PAIRCHAT_CHUNK_TIMESLICE_MS", cfg.Capture.Timeslice)
	cfg.Capture.TickInterval = envOrDefaultMillis("PAIRCHAT_TICK_INTERVAL_MS", cfg.Capture.TickInterval)

	cfg.Log.Level = envOrDefault("PAIRCHAT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("PAIRCHAT_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envOrDefault("PAIRCHAT_LOG_FILE", cfg.Log.File)

	defaults := Default()
	if cfg.Audio.Backend != BackendFFMPEG && cfg.Audio.Backend != BackendPortAudio {
		return Config{}, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
	if cfg.Relay.SendTimeout <= 0 {
		cfg.Relay.SendTimeout = defaults.Relay.SendTimeout
	}
	if cfg.Relay.ReconnectBackoff <= 0 {
		cfg.Relay.ReconnectBackoff = defaults.Relay.ReconnectBackoff
	}
	if cfg.Relay.ReconnectMaxBackoff < cfg.Relay.ReconnectBackoff {
		cfg.Relay.ReconnectMaxBackoff = max(defaults.Relay.ReconnectMaxBackoff, cfg.Relay.ReconnectBackoff)
	}
	if cfg.Capture.PermissionTimeout <= 0 {
		cfg.Capture.PermissionTimeout = defaults.Capture.PermissionTimeout
	}
	if cfg.Capture.Timeslice < 10*time.Millisecond {
		cfg.Capture.Timeslice = defaults.Capture.Timeslice
	}
	if cfg.Capture.TickInterval <= 0 {
		cfg.Capture.TickInterval = defaults.Capture.TickInterval
	}

	return cfg, nil
}

func configPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("PAIRCHAT_CONFIG")); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "pairchat", "config.yaml"), nil
}

func loadFile(path string, cfg *Config) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
