package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"pairchat/internal/ports"
)

// FFMPEGCaptureConfig selects the ffmpeg input used for the microphone.
type FFMPEGCaptureConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	// EchoCancelDevice is used instead of InputDevice when echo cancellation is requested,
	// e.g. a PulseAudio module-echo-cancel source.
	EchoCancelDevice string
}

// FFMPEGCapture acquires microphone PCM streams using ffmpeg.
type FFMPEGCapture struct {
	cfg FFMPEGCaptureConfig
}

func NewFFMPEGCapture(cfg FFMPEGCaptureConfig) *FFMPEGCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &FFMPEGCapture{cfg: cfg}
}

// Available reports whether the ffmpeg binary can be found.
func (c *FFMPEGCapture) Available() bool {
	_, err := exec.LookPath(c.cfg.Command)
	return err == nil
}

func (c *FFMPEGCapture) Acquire(ctx context.Context, constraints ports.AudioConstraints) (ports.AudioStream, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, captureArgs(c.cfg, constraints)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &ports.DeviceError{Name: "NotFoundError", Message: err.Error()}
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, captureStartError(err, stringsTrimSpaceSafe(stderr.String()))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:  stdout,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func captureArgs(cfg FFMPEGCaptureConfig, constraints ports.AudioConstraints) []string {
	sampleRate := constraints.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	device := cfg.InputDevice
	if constraints.EchoCancellation && cfg.EchoCancelDevice != "" {
		device = cfg.EchoCancelDevice
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
	}
	if constraints.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args, "-f", "s16le", "-")
}

// captureStartError maps an early ffmpeg exit to a named device failure.
func captureStartError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	name := ""
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"):
		name = "NotAllowedError"
	case strings.Contains(lower, "device or resource busy"):
		name = "NotReadableError"
	case strings.Contains(lower, "no such file or directory"), strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such entity"):
		name = "NotFoundError"
	case strings.Contains(lower, "invalid sample rate"), strings.Contains(lower, "invalid argument"):
		name = "OverconstrainedError"
	}
	if name != "" {
		return &ports.DeviceError{Name: name, Message: stderr}
	}
	if err != nil {
		return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr)
	}
	return errors.New("ffmpeg exited before capture started")
}

type ffmpegStream struct {
	stdout io.ReadCloser

	process *os.Process
	waitErr <-chan error

	releaseOnce sync.Once
	releaseErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Release() error {
	s.releaseOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			s.releaseErr = multierr.Append(s.releaseErr, closeErr)
		}
	})

	return s.releaseErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
