package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pairchat/internal/domain"
)

// Device failure identifiers understood by the capture error classifier.
var (
	ErrPermissionDenied         = errors.New("microphone permission denied")
	ErrDeviceNotFound           = errors.New("no microphone found")
	ErrDeviceBusy               = errors.New("microphone is in use")
	ErrConstraintsUnsatisfiable = errors.New("audio constraints cannot be satisfied")
)

// DeviceError is a named device failure, mirroring platform media error names.
type DeviceError struct {
	Name    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// AudioConstraints describes the requested microphone processing.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

// AudioStream is an acquired microphone stream delivering signed 16-bit little-endian mono PCM.
type AudioStream interface {
	io.Reader
	// Release stops all tracks of the stream.
	Release() error
}

// AudioDevice acquires microphone streams.
type AudioDevice interface {
	Acquire(ctx context.Context, constraints AudioConstraints) (AudioStream, error)
	// Available reports whether the device backend can be used at all.
	Available() bool
}

// RecorderOptions controls recorder chunk delivery.
type RecorderOptions struct {
	SampleRate int
	Timeslice  time.Duration
}

// Recorder encodes a stream and reports chunk, error and finalize events.
type Recorder interface {
	// Events is closed after a finalize or terminal error event.
	Events() <-chan domain.RecorderEvent
	// Stop requests finalization; trailing chunks and a finalize event follow.
	Stop() error
}

// RecorderFactory creates recorders for acquired streams.
type RecorderFactory interface {
	NewRecorder(ctx context.Context, stream AudioStream, format domain.FormatID, opts RecorderOptions) (Recorder, error)
}

// Environment answers runtime capability queries.
type Environment interface {
	HasDeviceAccess() bool
	HasRecorder() bool
	IsSecureContext() bool
	IsFormatSupported(format domain.FormatID) bool
}

// SessionChannel is the secure-messaging session the client is paired into.
type SessionChannel interface {
	IsPaired() bool
	PairingCode() (string, bool)
	Certificate() (domain.Certificate, bool)
	SendMessage(ctx context.Context, content string, kind domain.MessageKind) error
	LeaveChat()
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason)
	ElapsedChanged(elapsed string)
	// CaptureError is presented as a blocking modal until acknowledged.
	CaptureError(record domain.ErrorRecord)
	// Notice is presented without blocking the UI.
	Notice(code domain.NoticeCode, message string)
}
