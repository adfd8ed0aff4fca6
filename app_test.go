package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"pairchat/internal/domain"
)

func TestCaptureReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.CaptureStateReason]string{
		domain.CaptureReasonReady:             "Ready",
		domain.CaptureReasonRequestingDevice:  "Waiting for microphone...",
		domain.CaptureReasonRecordingStarted:  "Recording",
		domain.CaptureReasonFinalizing:        "Finishing recording...",
		domain.CaptureReasonRecordingSent:     "Voice message sent",
		domain.CaptureReasonRecordingEmpty:    "Nothing was recorded",
		domain.CaptureReasonSendFailed:        "Voice message could not be sent",
		domain.CaptureReasonFinalizeAbandoned: "Recording discarded",
		domain.CaptureReasonErrorAcknowledged: "Ready",
		domain.CaptureReasonShutdown:          "Recording cancelled",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, want, captureReasonMessage(reason))
		})
	}

	assert.Empty(t, captureReasonMessage("unknown"))
}

func TestErrorTitle(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCategory]string{
		domain.ErrorCategoryEnvironmentUnsupported:   "Voice messages unavailable",
		domain.ErrorCategoryNoSupportedFormat:        "No supported recording format",
		domain.ErrorCategoryPermissionDenied:         "Microphone access denied",
		domain.ErrorCategoryDeviceNotFound:           "No microphone found",
		domain.ErrorCategoryDeviceBusy:               "Microphone in use",
		domain.ErrorCategoryConstraintsUnsatisfiable: "Microphone settings not supported",
		domain.ErrorCategoryRecorderRuntime:          "Recording failed",
		domain.ErrorCategoryUnknown:                  "Microphone error",
	}
	for category, want := range cases {
		category := category
		want := want
		t.Run(string(category), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, want, errorTitle(category))
		})
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	require.Error(t, app.requireReady())

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	assert.ErrorIs(t, app.requireReady(), bootErr)
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	assert.Equal(t, domain.CaptureStateIdle, status.State)
	assert.False(t, status.CanCapture)
	assert.False(t, status.CanSend)
	assert.Equal(t, "0:00", status.Elapsed)

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	assert.Equal(t, domain.CaptureStateError, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, "boot", status.Error.Message)
}

func TestUninitializedAppRejectsActions(t *testing.T) {
	t.Parallel()

	app := NewApp()
	_, err := app.StartRecording()
	assert.Error(t, err)

	text, err := app.SendText("hello")
	assert.Error(t, err)
	assert.Equal(t, "hello", text, "composer text should be kept")

	assert.Error(t, app.SendImageFile("/nonexistent.png"))
	assert.Error(t, app.ChooseAndSendImage())

	info := app.GetSessionInfo()
	assert.False(t, info.Paired)
	assert.Nil(t, info.Certificate)

	assert.False(t, app.beforeClose(context.Background()), "close should proceed")
}

func TestChooseImageUsesImageFilter(t *testing.T) {
	t.Parallel()

	var got runtime.OpenDialogOptions
	app := &App{openFileDialog: func(_ context.Context, options runtime.OpenDialogOptions) (string, error) {
		got = options
		return "/tmp/cat.heic", nil
	}}

	path, err := app.chooseImage()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cat.heic", path)

	require.Len(t, got.Filters, 1)
	for _, pattern := range []string{"*.png", "*.jpg", "*.svg", "*.heic"} {
		assert.Contains(t, got.Filters[0].Pattern, pattern)
	}
}

func TestChooseImageErrors(t *testing.T) {
	t.Parallel()

	dialogErr := errors.New("dialog closed")
	app := &App{openFileDialog: func(context.Context, runtime.OpenDialogOptions) (string, error) {
		return "", dialogErr
	}}
	_, err := app.chooseImage()
	assert.ErrorIs(t, err, dialogErr)

	_, err = (&App{}).chooseImage()
	assert.Error(t, err)
}

func TestChooseImageCancelled(t *testing.T) {
	t.Parallel()

	app := &App{openFileDialog: func(context.Context, runtime.OpenDialogOptions) (string, error) {
		return "", nil
	}}
	path, err := app.chooseImage()
	require.NoError(t, err)
	assert.Empty(t, path)
}
