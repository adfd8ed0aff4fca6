package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"pairchat/internal/bootstrap"
	"pairchat/internal/domain"
	"pairchat/internal/message"
	"pairchat/internal/relay"
	"pairchat/internal/usecase"
)

const (
	eventState   = "pairchat:state"
	eventElapsed = "pairchat:elapsed"
	eventError   = "pairchat:error"
	eventNotice  = "pairchat:notice"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.CaptureController
	packager   *message.Packager
	session    *relay.Client
	logger     *zap.Logger
	bootErr    error

	openFileDialog func(context.Context, runtime.OpenDialogOptions) (string, error)
}

func NewApp() *App {
	return &App{openFileDialog: runtime.OpenFileDialog}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.Notice(domain.NoticeCodeStartup, err.Error())
		return
	}

	a.controller = services.Controller
	a.packager = services.Packager
	a.session = services.Session
	a.logger = services.Logger
	a.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonReady)

	go a.connect(ctx)
}

// connect reports a relay that is unreachable at launch, then keeps the session connected until the
// chat is left.
func (a *App) connect(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := a.session.Connect(connectCtx)
	cancel()
	if err != nil {
		a.logger.Warn("relay connection failed", zap.Error(err))
		a.Notice(domain.NoticeCodeStartup, err.Error())
	}
	a.session.Run(ctx)
}

// beforeClose finalizes any live recording before the window goes away.
func (a *App) beforeClose(ctx context.Context) bool {
	if a.controller == nil {
		return false
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := a.controller.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("capture shutdown incomplete", zap.Error(err))
	}
	return false
}

func (a *App) shutdown(_ context.Context) {
	if a.session != nil {
		a.session.LeaveChat()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// ToggleRecording starts a voice note when idle and sends it when recording.
func (a *App) ToggleRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Toggle(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StartRecording requests the microphone and starts a voice note.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.controller.Start(a.ctx)
	return a.controller.Status(), nil
}

// StopRecording finalizes the voice note and sends it.
func (a *App) StopRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// AcknowledgeError dismisses the capture error dialog.
func (a *App) AcknowledgeError() domain.Status {
	if a.controller == nil {
		return a.GetStatus()
	}
	a.controller.Acknowledge()
	return a.controller.Status()
}

// SendText sends composer text and returns what the composer should now contain.
func (a *App) SendText(text string) (string, error) {
	if err := a.requireReady(); err != nil {
		return text, err
	}
	return a.packager.SendText(a.ctx, text)
}

// SendImageFile sends an image chosen from disk.
func (a *App) SendImageFile(path string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to inspect image: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	return a.packager.SendImage(a.ctx, message.ImageInput{
		Name: filepath.Base(path),
		Size: info.Size(),
		Data: file,
	})
}

// ChooseAndSendImage lets the user pick an image and sends it. Cancelling the dialog sends nothing.
func (a *App) ChooseAndSendImage() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	path, err := a.chooseImage()
	if err != nil || path == "" {
		return err
	}
	return a.SendImageFile(path)
}

func (a *App) chooseImage() (string, error) {
	if a.openFileDialog == nil {
		return "", fmt.Errorf("file dialog is not available")
	}
	path, err := a.openFileDialog(a.ctx, imageDialogOptions())
	if err != nil {
		return "", fmt.Errorf("failed to choose image: %w", err)
	}
	return path, nil
}

func imageDialogOptions() runtime.OpenDialogOptions {
	return runtime.OpenDialogOptions{
		Title: "Send image",
		Filters: []runtime.FileFilter{
			{DisplayName: "Images", Pattern: "*.png;*.jpg;*.jpeg;*.gif;*.webp;*.bmp;*.svg;*.heic;*.heif;*.avif"},
		},
	}
}

// LeaveChat sends any live recording and then leaves the paired session.
func (a *App) LeaveChat() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	stopCtx, cancel := context.WithTimeout(a.ctx, shutdownTimeout)
	defer cancel()
	err := a.controller.Stop(stopCtx)
	a.session.LeaveChat()
	return err
}

// GetStatus returns the current capture status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{State: domain.CaptureStateIdle, Elapsed: domain.FormatElapsed(0)}
		if a.bootErr != nil {
			status.State = domain.CaptureStateError
			status.Error = &domain.ErrorRecord{Category: domain.ErrorCategoryUnknown, Message: a.bootErr.Error()}
		}
		return status
	}
	return a.controller.Status()
}

// GetSessionInfo returns the pairing code and certificate of the session.
func (a *App) GetSessionInfo() domain.SessionInfo {
	if a.session == nil {
		return domain.SessionInfo{}
	}
	info := domain.SessionInfo{Paired: a.session.IsPaired()}
	if code, ok := a.session.PairingCode(); ok {
		info.PairingCode = code
	}
	if cert, ok := a.session.Certificate(); ok {
		info.Certificate = &cert
		info.Expired = cert.Expired(time.Now())
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CaptureStateChanged emits capture lifecycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

// ElapsedChanged emits the recording timer.
func (a *App) ElapsedChanged(elapsed string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventElapsed, map[string]string{"elapsed": elapsed})
}

// CaptureError emits a blocking capture error.
func (a *App) CaptureError(record domain.ErrorRecord) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"category": string(record.Category),
		"title":    errorTitle(record.Category),
		"message":  record.Message,
	})
}

// Notice emits a non-blocking notice.
func (a *App) Notice(code domain.NoticeCode, text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventNotice, map[string]string{
		"code":    string(code),
		"message": text,
	})
}

func captureReasonMessage(reason domain.CaptureStateReason) string {
	switch reason {
	case domain.CaptureReasonReady:
		return "Ready"
	case domain.CaptureReasonRequestingDevice:
		return "Waiting for microphone..."
	case domain.CaptureReasonRecordingStarted:
		return "Recording"
	case domain.CaptureReasonFinalizing:
		return "Finishing recording..."
	case domain.CaptureReasonRecordingSent:
		return "Voice message sent"
	case domain.CaptureReasonRecordingEmpty:
		return "Nothing was recorded"
	case domain.CaptureReasonSendFailed:
		return "Voice message could not be sent"
	case domain.CaptureReasonFinalizeAbandoned:
		return "Recording discarded"
	case domain.CaptureReasonErrorAcknowledged:
		return "Ready"
	case domain.CaptureReasonShutdown:
		return "Recording cancelled"
	default:
		return ""
	}
}

func errorTitle(category domain.ErrorCategory) string {
	switch category {
	case domain.ErrorCategoryEnvironmentUnsupported:
		return "Voice messages unavailable"
	case domain.ErrorCategoryNoSupportedFormat:
		return "No supported recording format"
	case domain.ErrorCategoryPermissionDenied:
		return "Microphone access denied"
	case domain.ErrorCategoryDeviceNotFound:
		return "No microphone found"
	case domain.ErrorCategoryDeviceBusy:
		return "Microphone in use"
	case domain.ErrorCategoryConstraintsUnsatisfiable:
		return "Microphone settings not supported"
	case domain.ErrorCategoryRecorderRuntime:
		return "Recording failed"
	default:
		return "Microphone error"
	}
}
