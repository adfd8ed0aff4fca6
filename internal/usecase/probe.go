package usecase

import (
	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

const (
	MessageNoCaptureSupport = "Audio capture is not supported here. Please use a modern browser."
	MessageNoRecorder       = "Audio recording is not available. Please update your browser."
	MessageInsecureContext  = "Audio recording requires a secure connection (HTTPS)."
)

// CheckAudioSupport returns the first reason the environment cannot record, or nil.
// Checks run in priority order and stop at the first failure.
func CheckAudioSupport(env ports.Environment) *domain.BlockingReason {
	if !env.HasDeviceAccess() {
		return &domain.BlockingReason{Check: "device_access", Message: MessageNoCaptureSupport}
	}
	if !env.HasRecorder() {
		return &domain.BlockingReason{Check: "recorder", Message: MessageNoRecorder}
	}
	if !env.IsSecureContext() {
		return &domain.BlockingReason{Check: "secure_context", Message: MessageInsecureContext}
	}
	return nil
}
