package usecase

import (
	"bytes"
	"context"
	"sync"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

// activeSession owns the device handle of one capture attempt.
type activeSession struct {
	cancel     context.CancelFunc
	stream     ports.AudioStream
	recorder   ports.Recorder
	format     domain.FormatID
	stopTicker func()

	// guarded by the controller mutex
	chunks [][]byte

	releaseOnce sync.Once
	releaseErr  error

	finishOnce sync.Once
	done       chan struct{}
	payload    []byte
	failure    *domain.ErrorRecord
}

func newActiveSession(cancel context.CancelFunc, stream ports.AudioStream, recorder ports.Recorder, format domain.FormatID) *activeSession {
	return &activeSession{
		cancel:   cancel,
		stream:   stream,
		recorder: recorder,
		format:   format,
		done:     make(chan struct{}),
	}
}

func (s *activeSession) appendChunk(data []byte) {
	s.chunks = append(s.chunks, append([]byte(nil), data...))
}

// drain returns the assembled buffer and clears it.
func (s *activeSession) drain() []byte {
	assembled := bytes.Join(s.chunks, nil)
	s.chunks = nil
	return assembled
}

// release stops all tracks. Only the first call reaches the stream.
func (s *activeSession) release() error {
	s.releaseOnce.Do(func() {
		if s.stopTicker != nil {
			s.stopTicker()
		}
		s.releaseErr = s.stream.Release()
		s.cancel()
	})
	return s.releaseErr
}

func (s *activeSession) finish(payload []byte, failure *domain.ErrorRecord) {
	s.finishOnce.Do(func() {
		s.payload = payload
		s.failure = failure
		close(s.done)
	})
}
