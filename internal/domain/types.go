package domain

import (
	"fmt"
	"time"
)

// CaptureState models the microphone capture lifecycle.
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateRequesting CaptureState = "requesting"
	CaptureStateRecording  CaptureState = "recording"
	CaptureStateStopping   CaptureState = "stopping"
	CaptureStateError      CaptureState = "error"
)

// CaptureStateReason provides a structured reason for state transitions.
type CaptureStateReason string

const (
	CaptureReasonReady             CaptureStateReason = "ready"
	CaptureReasonRequestingDevice  CaptureStateReason = "requesting_device"
	CaptureReasonRecordingStarted  CaptureStateReason = "recording_started"
	CaptureReasonFinalizing        CaptureStateReason = "finalizing"
	CaptureReasonRecordingSent     CaptureStateReason = "recording_sent"
	CaptureReasonRecordingEmpty    CaptureStateReason = "recording_empty"
	CaptureReasonSendFailed        CaptureStateReason = "send_failed"
	CaptureReasonEnvironment       CaptureStateReason = "environment_unsupported"
	CaptureReasonNoFormat          CaptureStateReason = "no_supported_format"
	CaptureReasonDeviceFailed      CaptureStateReason = "device_failed"
	CaptureReasonRecorderFailed    CaptureStateReason = "recorder_failed"
	CaptureReasonFinalizeAbandoned CaptureStateReason = "finalize_abandoned"
	CaptureReasonErrorAcknowledged CaptureStateReason = "error_acknowledged"
	CaptureReasonShutdown          CaptureStateReason = "shutdown"
)

// ErrorCategory is the closed set of capture failures shown to the user.
type ErrorCategory string

const (
	ErrorCategoryEnvironmentUnsupported   ErrorCategory = "environment_unsupported"
	ErrorCategoryNoSupportedFormat        ErrorCategory = "no_supported_format"
	ErrorCategoryPermissionDenied         ErrorCategory = "permission_denied"
	ErrorCategoryDeviceNotFound           ErrorCategory = "device_not_found"
	ErrorCategoryDeviceBusy               ErrorCategory = "device_busy"
	ErrorCategoryConstraintsUnsatisfiable ErrorCategory = "constraints_unsatisfiable"
	ErrorCategoryRecorderRuntime          ErrorCategory = "recorder_runtime"
	ErrorCategoryUnknown                  ErrorCategory = "unknown"
)

// ErrorRecord is the transient, user-facing description of a capture failure.
type ErrorRecord struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

func (r ErrorRecord) Error() string {
	return fmt.Sprintf("%s: %s", r.Category, r.Message)
}

// BlockingReason explains why the environment cannot capture audio at all.
type BlockingReason struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Record converts the reason into the error shown to the user.
func (r BlockingReason) Record() ErrorRecord {
	return ErrorRecord{Category: ErrorCategoryEnvironmentUnsupported, Message: r.Message}
}

// NoticeCode identifies non-blocking notices.
type NoticeCode string

const (
	NoticeCodeSendFailed       NoticeCode = "send_failed"
	NoticeCodePayloadTooLarge  NoticeCode = "payload_too_large"
	NoticeCodeUnsupportedImage NoticeCode = "unsupported_image"
	NoticeCodeNotPaired        NoticeCode = "not_paired"
	NoticeCodeStartup          NoticeCode = "startup"
)

// MessageKind is the payload kind accepted by the session channel.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindAudio MessageKind = "audio"
)

// OutboundPayload is built once per send attempt and discarded afterwards.
type OutboundPayload struct {
	Content string      `json:"content"`
	Kind    MessageKind `json:"kind"`
}

// FormatID is a MIME type with optional codec parameter, e.g. "audio/webm;codecs=opus".
type FormatID string

const (
	FormatWebMOpus FormatID = "audio/webm;codecs=opus"
	FormatWebM     FormatID = "audio/webm"
	FormatMP4      FormatID = "audio/mp4"
	FormatOggOpus  FormatID = "audio/ogg;codecs=opus"
)

// PreferredFormats is the negotiation order, most preferred first.
var PreferredFormats = []FormatID{FormatWebMOpus, FormatWebM, FormatMP4, FormatOggOpus}

// RecorderEventKind identifies device callbacks.
type RecorderEventKind string

const (
	RecorderEventChunk     RecorderEventKind = "chunk"
	RecorderEventError     RecorderEventKind = "error"
	RecorderEventFinalized RecorderEventKind = "finalized"
)

// RecorderEvent is one device callback, delivered in arrival order.
type RecorderEvent struct {
	Kind RecorderEventKind
	Data []byte
	Err  error
}

// Certificate is the session-scoped identity credential.
type Certificate struct {
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the certificate is no longer valid at now.
func (c Certificate) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Status summarizes capture state for the UI.
type Status struct {
	State      CaptureState `json:"state"`
	Elapsed    string       `json:"elapsed"`
	Paired     bool         `json:"paired"`
	CanCapture bool         `json:"canCapture"`
	CanSend    bool         `json:"canSend"`
	Format     FormatID     `json:"format,omitempty"`
	Error      *ErrorRecord `json:"error,omitempty"`
}

// SessionInfo describes the paired session for the UI.
type SessionInfo struct {
	Paired      bool         `json:"paired"`
	PairingCode string       `json:"pairingCode,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
	Expired     bool         `json:"expired"`
}

// FormatElapsed renders seconds as M:SS with unbounded minutes.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
