//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pairchat/internal/ports"
)

const portAudioFramesPerBuffer = 1024

// PortAudioCapture acquires the default input device through PortAudio.
type PortAudioCapture struct {
	logger *zap.Logger
}

func NewPortAudioCapture(logger *zap.Logger) *PortAudioCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortAudioCapture{logger: logger}
}

func (c *PortAudioCapture) Available() bool {
	if err := portaudio.Initialize(); err != nil {
		return false
	}
	defer portaudio.Terminate()
	device, err := portaudio.DefaultInputDevice()
	return err == nil && device != nil && device.MaxInputChannels > 0
}

func (c *PortAudioCapture) Acquire(ctx context.Context, constraints ports.AudioConstraints) (ports.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	sampleRate := constraints.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	buffer := make([]int16, portAudioFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}

	reader, writer := io.Pipe()
	s := &portAudioStream{
		stream: stream,
		buffer: buffer,
		reader: reader,
		writer: writer,
		done:   make(chan struct{}),
	}
	s.pumpDone.Add(1)
	go s.pump()
	c.logger.Info("portaudio microphone started", zap.Int("sampleRate", sampleRate))
	return s, nil
}

func mapPortAudioError(err error) error {
	switch {
	case errors.Is(err, portaudio.DeviceUnavailable):
		return &ports.DeviceError{Name: "NotReadableError", Message: err.Error()}
	case errors.Is(err, portaudio.InvalidDevice):
		return &ports.DeviceError{Name: "NotFoundError", Message: err.Error()}
	case errors.Is(err, portaudio.InvalidSampleRate), errors.Is(err, portaudio.InvalidChannelCount):
		return &ports.DeviceError{Name: "OverconstrainedError", Message: err.Error()}
	default:
		return fmt.Errorf("opening portaudio stream: %w", err)
	}
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	reader *io.PipeReader
	writer *io.PipeWriter

	done        chan struct{}
	pumpDone    sync.WaitGroup
	releaseOnce sync.Once
	releaseErr  error
}

func (s *portAudioStream) pump() {
	defer s.pumpDone.Done()

	frame := make([]byte, len(s.buffer)*2)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			_ = s.writer.CloseWithError(fmt.Errorf("reading from stream: %w", err))
			return
		}
		for i, sample := range s.buffer {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
		}
		if _, err := s.writer.Write(frame); err != nil {
			return
		}
	}
}

func (s *portAudioStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *portAudioStream) Release() error {
	s.releaseOnce.Do(func() {
		close(s.done)
		_ = s.reader.Close()
		s.pumpDone.Wait()
		s.releaseErr = multierr.Combine(s.stream.Stop(), s.stream.Close())
		portaudio.Terminate()
		_ = s.writer.Close()
	})
	return s.releaseErr
}
