package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

const (
	DefaultSampleRate        = 44100
	DefaultTimeslice         = 100 * time.Millisecond
	DefaultTickInterval      = time.Second
	DefaultPermissionTimeout = 10 * time.Second
)

// Config controls capture behavior.
type Config struct {
	Constraints       ports.AudioConstraints
	Timeslice         time.Duration
	TickInterval      time.Duration
	PermissionTimeout time.Duration
}

// DefaultConstraints are the fixed microphone constraints requested on every start.
func DefaultConstraints() ports.AudioConstraints {
	return ports.AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       DefaultSampleRate,
	}
}

// CaptureController owns the microphone for voice notes: at most one capture session, its chunk
// buffer and its elapsed-time timer.
type CaptureController struct {
	env       ports.Environment
	device    ports.AudioDevice
	recorders ports.RecorderFactory
	session   ports.SessionChannel
	events    ports.EventSink
	finalizer recordingFinalizer
	logger    *zap.Logger
	cfg       Config

	mu          sync.Mutex
	state       domain.CaptureState
	elapsed     int
	errRecord   *domain.ErrorRecord
	current     *activeSession
	cancelStart context.CancelFunc
	startDone   chan struct{}
	closed      bool
}

func NewCaptureController(
	env ports.Environment,
	device ports.AudioDevice,
	recorders ports.RecorderFactory,
	session ports.SessionChannel,
	sender AudioSender,
	events ports.EventSink,
	logger *zap.Logger,
	cfg Config,
) *CaptureController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Constraints == (ports.AudioConstraints{}) {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = DefaultPermissionTimeout
	}
	return &CaptureController{
		env:       env,
		device:    device,
		recorders: recorders,
		session:   session,
		events:    events,
		finalizer: newRecordingFinalizer(sender, logger),
		logger:    logger,
		cfg:       cfg,
		state:     domain.CaptureStateIdle,
	}
}

// Start begins a capture session. It is a no-op unless the controller is idle and the session is
// paired. Failures are reported through the event sink and leave the controller in the error state.
func (c *CaptureController) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.state != domain.CaptureStateIdle || !c.session.IsPaired() {
		c.mu.Unlock()
		return
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.state = domain.CaptureStateRequesting
	c.errRecord = nil
	c.cancelStart = cancel
	c.startDone = done
	c.mu.Unlock()
	defer close(done)

	c.events.CaptureStateChanged(domain.CaptureStateRequesting, domain.CaptureReasonRequestingDevice)

	if reason := CheckAudioSupport(c.env); reason != nil {
		cancel()
		c.logger.Info("audio capture blocked by environment", zap.String("check", reason.Check))
		c.fail(reason.Record(), domain.CaptureReasonEnvironment)
		return
	}

	format, err := SelectEncoding(c.env)
	if err != nil {
		cancel()
		c.logger.Info("no supported recording format")
		c.fail(domain.ErrorRecord{Category: domain.ErrorCategoryNoSupportedFormat, Message: MessageNoSupportedFormat}, domain.CaptureReasonNoFormat)
		return
	}

	stream, err := c.acquireStream(sessionCtx)
	if err != nil {
		cancel()
		if c.isClosed() {
			c.abandonStart()
			return
		}
		record := ClassifyDeviceError(err)
		c.logger.Warn("microphone acquisition failed", zap.String("category", string(record.Category)), zap.Error(err))
		c.fail(record, domain.CaptureReasonDeviceFailed)
		return
	}

	recorder, err := c.recorders.NewRecorder(sessionCtx, stream, format, ports.RecorderOptions{
		SampleRate: c.cfg.Constraints.SampleRate,
		Timeslice:  c.cfg.Timeslice,
	})
	if err != nil {
		_ = stream.Release()
		cancel()
		if c.isClosed() {
			c.abandonStart()
			return
		}
		record := ClassifyRecorderError(err)
		c.logger.Warn("recorder could not be created", zap.String("format", string(format)), zap.Error(err))
		c.fail(record, domain.CaptureReasonRecorderFailed)
		return
	}

	active := newActiveSession(cancel, stream, recorder, format)
	active.stopTicker = c.startTicker(active)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go drainRecorderEvents(recorder)
		_ = recorder.Stop()
		_ = active.release()
		c.abandonStart()
		return
	}
	c.current = active
	c.state = domain.CaptureStateRecording
	c.elapsed = 0
	c.cancelStart = nil
	c.mu.Unlock()

	go c.pumpRecorderEvents(active)

	c.logger.Info("recording started", zap.String("format", string(format)))
	c.events.CaptureStateChanged(domain.CaptureStateRecording, domain.CaptureReasonRecordingStarted)
	c.events.ElapsedChanged(domain.FormatElapsed(0))
}

// Stop finalizes the active recording and forwards it for sending. It returns once the recorder
// has signalled finalization, the device is released and the payload was handed off.
func (c *CaptureController) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CaptureStateRecording || c.current == nil {
		c.mu.Unlock()
		return nil
	}
	active := c.current
	c.state = domain.CaptureStateStopping
	c.mu.Unlock()

	c.events.CaptureStateChanged(domain.CaptureStateStopping, domain.CaptureReasonFinalizing)

	if err := active.recorder.Stop(); err != nil {
		c.handleRecorderError(active, err)
	}

	select {
	case <-active.done:
	case <-ctx.Done():
		c.abandonFinalize(active)
		return ctx.Err()
	}

	if active.failure != nil {
		return nil
	}

	reason := c.finalizer.Finalize(ctx, active.payload, active.format)
	c.events.CaptureStateChanged(domain.CaptureStateIdle, reason)
	return nil
}

// Toggle starts when idle and stops when recording.
func (c *CaptureController) Toggle(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == domain.CaptureStateRecording {
		return c.Stop(ctx)
	}
	c.Start(ctx)
	return nil
}

// ChunkReceived appends a fragment to the active session's buffer. Empty fragments are ignored.
func (c *CaptureController) ChunkReceived(data []byte) {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active != nil {
		c.handleChunk(active, data)
	}
}

// Tick advances the elapsed-time counter while recording.
func (c *CaptureController) Tick() {
	c.tick(nil)
}

// RecorderError tears down the active recording after a device failure.
func (c *CaptureController) RecorderError(err error) {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active != nil {
		c.handleRecorderError(active, err)
	}
}

// Acknowledge clears a reported error so that capture can be started again.
func (c *CaptureController) Acknowledge() {
	c.mu.Lock()
	if c.state != domain.CaptureStateError {
		c.mu.Unlock()
		return
	}
	c.state = domain.CaptureStateIdle
	c.errRecord = nil
	c.mu.Unlock()

	c.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonErrorAcknowledged)
}

// Shutdown is the terminal transition taken before the window goes away. A pending device request
// is abandoned, a live recording is stopped, and later starts are ignored.
func (c *CaptureController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	state := c.state
	active := c.current
	cancelStart := c.cancelStart
	startDone := c.startDone
	c.mu.Unlock()

	switch state {
	case domain.CaptureStateRequesting:
		if cancelStart != nil {
			cancelStart()
		}
		if startDone != nil {
			select {
			case <-startDone:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	case domain.CaptureStateRecording:
		return c.Stop(ctx)
	case domain.CaptureStateStopping:
		select {
		case <-active.done:
		case <-ctx.Done():
			c.abandonFinalize(active)
			return ctx.Err()
		}
	}
	return nil
}

// Status returns the current capture status.
func (c *CaptureController) Status() domain.Status {
	paired := c.session.IsPaired()

	c.mu.Lock()
	defer c.mu.Unlock()

	toggleable := c.state == domain.CaptureStateIdle || c.state == domain.CaptureStateRecording
	status := domain.Status{
		State:      c.state,
		Elapsed:    domain.FormatElapsed(c.elapsed),
		Paired:     paired,
		CanCapture: paired && !c.closed && toggleable,
		CanSend:    paired && !c.closed,
	}
	if c.current != nil {
		status.Format = c.current.format
	}
	if c.errRecord != nil {
		record := *c.errRecord
		status.Error = &record
	}
	return status
}

func (c *CaptureController) handleChunk(active *activeSession, data []byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active {
		return
	}
	if c.state == domain.CaptureStateRecording || c.state == domain.CaptureStateStopping {
		active.appendChunk(data)
	}
}

func (c *CaptureController) tick(active *activeSession) {
	c.mu.Lock()
	if c.state != domain.CaptureStateRecording || c.current == nil || (active != nil && c.current != active) {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	elapsed := c.elapsed
	c.mu.Unlock()

	c.events.ElapsedChanged(domain.FormatElapsed(elapsed))
}

func (c *CaptureController) handleFinalized(active *activeSession) {
	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	if c.state == domain.CaptureStateRecording {
		c.mu.Unlock()
		c.handleRecorderError(active, errRecorderEnded)
		return
	}
	payload := active.drain()
	c.current = nil
	c.state = domain.CaptureStateIdle
	c.elapsed = 0
	c.mu.Unlock()

	if err := active.release(); err != nil {
		c.logger.Warn("releasing microphone failed", zap.Error(err))
	}
	active.finish(payload, nil)
	c.events.ElapsedChanged(domain.FormatElapsed(0))
}

func (c *CaptureController) handleRecorderError(active *activeSession, err error) {
	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	record := ClassifyRecorderError(err)
	active.drain()
	c.current = nil
	c.state = domain.CaptureStateError
	c.errRecord = &record
	c.elapsed = 0
	c.mu.Unlock()

	c.logger.Warn("recorder failed", zap.String("category", string(record.Category)), zap.Error(err))
	if releaseErr := active.release(); releaseErr != nil {
		c.logger.Warn("releasing microphone failed", zap.Error(releaseErr))
	}
	active.finish(nil, &record)

	c.events.ElapsedChanged(domain.FormatElapsed(0))
	c.events.CaptureStateChanged(domain.CaptureStateError, domain.CaptureReasonRecorderFailed)
	c.events.CaptureError(record)
}

// abandonFinalize tears the session down when the finalize signal did not arrive in time.
func (c *CaptureController) abandonFinalize(active *activeSession) {
	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	active.drain()
	c.current = nil
	c.state = domain.CaptureStateIdle
	c.elapsed = 0
	c.mu.Unlock()

	c.logger.Warn("recorder did not finalize in time, discarding recording")
	if err := active.release(); err != nil {
		c.logger.Warn("releasing microphone failed", zap.Error(err))
	}
	active.finish(nil, nil)

	c.events.ElapsedChanged(domain.FormatElapsed(0))
	c.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonFinalizeAbandoned)
}

func (c *CaptureController) fail(record domain.ErrorRecord, reason domain.CaptureStateReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.abandonStart()
		return
	}
	c.state = domain.CaptureStateError
	c.errRecord = &record
	c.elapsed = 0
	c.cancelStart = nil
	c.mu.Unlock()

	c.events.CaptureStateChanged(domain.CaptureStateError, reason)
	c.events.CaptureError(record)
}

func (c *CaptureController) abandonStart() {
	c.mu.Lock()
	c.state = domain.CaptureStateIdle
	c.cancelStart = nil
	c.mu.Unlock()

	c.events.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonShutdown)
}

func (c *CaptureController) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
