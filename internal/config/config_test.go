package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PAIRCHAT_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsConfigFileFromHome(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, ".config", "pairchat", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	contents := `relay:
  url: wss://relay.example.com
  pairing_code: ABC-123
  send_timeout: 3s
  reconnect_backoff: 500ms
  reconnect_max_backoff: 30s
audio:
  backend: portaudio
  input_device: hw:1
capture:
  permission_timeout: 2s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("HOME", home)
	t.Setenv("PAIRCHAT_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com", cfg.Relay.URL)
	assert.Equal(t, "ABC-123", cfg.Relay.PairingCode)
	assert.Equal(t, 3*time.Second, cfg.Relay.SendTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.ReconnectBackoff)
	assert.Equal(t, 30*time.Second, cfg.Relay.ReconnectMaxBackoff)

	assert.Equal(t, BackendPortAudio, cfg.Audio.Backend)
	assert.Equal(t, "hw:1", cfg.Audio.InputDevice)
	assert.Equal(t, "pulse", cfg.Audio.InputFormat)

	assert.Equal(t, 2*time.Second, cfg.Capture.PermissionTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.Timeslice)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  url: ws://file.example\naudio:\n  ffmpeg_command: file-ffmpeg\n"), 0o600))

	t.Setenv("HOME", dir)
	t.Setenv("PAIRCHAT_CONFIG", path)
	t.Setenv("PAIRCHAT_RELAY_URL", "ws://env.example")
	t.Setenv("PAIRCHAT_PAIRING_CODE", "ZZ-9")
	t.Setenv("PAIRCHAT_SEND_TIMEOUT_MS", "2500")
	t.Setenv("PAIRCHAT_RECONNECT_BACKOFF_MS", "200")
	t.Setenv("PAIRCHAT_RECONNECT_MAX_BACKOFF_MS", "5000")
	t.Setenv("PAIRCHAT_AUDIO_BACKEND", "FFMPEG")
	t.Setenv("PAIRCHAT_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("PAIRCHAT_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("PAIRCHAT_AUDIO_ECHO_CANCEL_SOURCE", "echocancel")
	t.Setenv("PAIRCHAT_PERMISSION_TIMEOUT_MS", "500")
	t.Setenv("PAIRCHAT_CHUNK_TIMESLICE_MS", "250")
	t.Setenv("PAIRCHAT_TICK_INTERVAL_MS", "50")
	t.Setenv("PAIRCHAT_LOG_LEVEL", "warn")
	t.Setenv("PAIRCHAT_LOG_FORMAT", "json")
	t.Setenv("PAIRCHAT_LOG_FILE", "/tmp/pairchat.log")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RelayConfig{
		URL:                 "ws://env.example",
		PairingCode:         "ZZ-9",
		SendTimeout:         2500 * time.Millisecond,
		ReconnectBackoff:    200 * time.Millisecond,
		ReconnectMaxBackoff: 5 * time.Second,
	}, cfg.Relay)
	assert.Equal(t, AudioConfig{
		Backend:          BackendFFMPEG,
		FFMPEGCommand:    "file-ffmpeg",
		InputFormat:      "alsa",
		InputDevice:      "mic0",
		EchoCancelSource: "echocancel",
	}, cfg.Audio)
	assert.Equal(t, CaptureConfig{
		PermissionTimeout: 500 * time.Millisecond,
		Timeslice:         250 * time.Millisecond,
		TickInterval:      50 * time.Millisecond,
	}, cfg.Capture)
	assert.Equal(t, LogConfig{Level: "warn", Format: "json", File: "/tmp/pairchat.log"}, cfg.Log)
}

func TestLoadFallsBackOnInvalidDurations(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PAIRCHAT_CONFIG", "")
	t.Setenv("PAIRCHAT_SEND_TIMEOUT_MS", "soon")
	t.Setenv("PAIRCHAT_PERMISSION_TIMEOUT_MS", "0")
	t.Setenv("PAIRCHAT_CHUNK_TIMESLICE_MS", "1")
	t.Setenv("PAIRCHAT_TICK_INTERVAL_MS", "-5")
	t.Setenv("PAIRCHAT_RECONNECT_BACKOFF_MS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	defaults := Default()
	assert.Equal(t, defaults.Relay.SendTimeout, cfg.Relay.SendTimeout)
	assert.Equal(t, defaults.Relay.ReconnectBackoff, cfg.Relay.ReconnectBackoff)
	assert.Equal(t, defaults.Relay.ReconnectMaxBackoff, cfg.Relay.ReconnectMaxBackoff)
	assert.Equal(t, defaults.Capture, cfg.Capture)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PAIRCHAT_CONFIG", "")
	t.Setenv("PAIRCHAT_AUDIO_BACKEND", "jack")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay: [unterminated\n"), 0o600))
	t.Setenv("HOME", dir)
	t.Setenv("PAIRCHAT_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRaisesMaxBackoffToInitialBackoff(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PAIRCHAT_CONFIG", "")
	t.Setenv("PAIRCHAT_RECONNECT_BACKOFF_MS", "120000")
	t.Setenv("PAIRCHAT_RECONNECT_MAX_BACKOFF_MS", "1000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Relay.ReconnectBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Relay.ReconnectMaxBackoff)
}
