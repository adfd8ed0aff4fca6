package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

var errRecorderEnded = errors.New("recorder ended without finalizing")

// pumpRecorderEvents applies device events to the session in arrival order.
func (c *CaptureController) pumpRecorderEvents(session *activeSession) {
	for event := range session.recorder.Events() {
		switch event.Kind {
		case domain.RecorderEventChunk:
			c.handleChunk(session, event.Data)
		case domain.RecorderEventError:
			c.handleRecorderError(session, event.Err)
		case domain.RecorderEventFinalized:
			c.handleFinalized(session)
		}
	}
	// A closed channel without a finalize signal ends the session either way.
	c.handleFinalized(session)
}

func drainRecorderEvents(recorder ports.Recorder) {
	for range recorder.Events() {
	}
}

func (c *CaptureController) startTicker(session *activeSession) func() {
	ticker := time.NewTicker(c.cfg.TickInterval)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.tick(session)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

type acquireResult struct {
	stream ports.AudioStream
	err    error
}

// acquireStream waits for the device within the permission timeout. A stream that arrives after
// the caller gave up is released.
func (c *CaptureController) acquireStream(ctx context.Context) (ports.AudioStream, error) {
	results := make(chan acquireResult, 1)
	go func() {
		stream, err := c.device.Acquire(ctx, c.cfg.Constraints)
		results <- acquireResult{stream: stream, err: err}
	}()

	timer := time.NewTimer(c.cfg.PermissionTimeout)
	defer timer.Stop()

	select {
	case result := <-results:
		if result.err != nil && result.stream != nil {
			_ = result.stream.Release()
			result.stream = nil
		}
		return result.stream, result.err
	case <-timer.C:
		go releaseLateStream(results)
		return nil, fmt.Errorf("waiting for microphone access: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		go releaseLateStream(results)
		return nil, ctx.Err()
	}
}

func releaseLateStream(results <-chan acquireResult) {
	result := <-results
	if result.stream != nil {
		_ = result.stream.Release()
	}
}
