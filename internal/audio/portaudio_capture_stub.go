//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"

	"go.uber.org/zap"

	"pairchat/internal/ports"
)

// PortAudioCapture stub when portaudio is not available
type PortAudioCapture struct{}

func NewPortAudioCapture(_ *zap.Logger) *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Available() bool {
	return false
}

func (c *PortAudioCapture) Acquire(_ context.Context, _ ports.AudioConstraints) (ports.AudioStream, error) {
	return nil, &ports.DeviceError{Name: "NotFoundError", Message: "portaudio capture not available: rebuild with -tags portaudio"}
}
