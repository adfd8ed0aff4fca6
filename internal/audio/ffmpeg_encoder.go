package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported recording format")
	errInputEnded        = errors.New("audio input ended unexpectedly")
)

// FFMPEGEncoder turns PCM streams into container-encoded recordings and reports which
// formats the local ffmpeg build can produce.
type FFMPEGEncoder struct {
	command string
	logger  *zap.Logger

	probeOnce sync.Once
	muxers    []string
	encoders  []string
	probeErr  error
}

func NewFFMPEGEncoder(command string, logger *zap.Logger) *FFMPEGEncoder {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFMPEGEncoder{command: command, logger: logger}
}

// Available reports whether ffmpeg runs and lists at least one muxer.
func (e *FFMPEGEncoder) Available() bool {
	e.probe()
	return e.probeErr == nil && len(e.muxers) > 0
}

// Supports reports whether the format can be produced.
func (e *FFMPEGEncoder) Supports(format domain.FormatID) bool {
	e.probe()
	if e.probeErr != nil {
		return false
	}
	_, err := encodeArgs(format, e.hasEncoder)
	return err == nil && lo.Contains(e.muxers, muxerFor(format))
}

func (e *FFMPEGEncoder) hasEncoder(name string) bool {
	return lo.Contains(e.encoders, name)
}

func (e *FFMPEGEncoder) probe() {
	e.probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		muxers, err := e.listCapabilities(ctx, "-muxers")
		if err != nil {
			e.probeErr = err
			e.logger.Warn("ffmpeg muxer probe failed", zap.Error(err))
			return
		}
		encoders, err := e.listCapabilities(ctx, "-encoders")
		if err != nil {
			e.probeErr = err
			e.logger.Warn("ffmpeg encoder probe failed", zap.Error(err))
			return
		}
		e.muxers = muxers
		e.encoders = encoders
		e.logger.Debug("ffmpeg capabilities probed", zap.Int("muxers", len(muxers)), zap.Int("encoders", len(encoders)))
	})
}

func (e *FFMPEGEncoder) listCapabilities(ctx context.Context, flag string) ([]string, error) {
	out, err := exec.CommandContext(ctx, e.command, "-hide_banner", flag).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run ffmpeg %s: %w", flag, err)
	}
	return parseCapabilityList(out), nil
}

// parseCapabilityList reads the name column of `ffmpeg -muxers` / `ffmpeg -encoders` output.
func parseCapabilityList(out []byte) []string {
	var names []string
	inList := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			inList = strings.HasPrefix(line, "--")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func muxerFor(format domain.FormatID) string {
	switch format {
	case domain.FormatWebMOpus, domain.FormatWebM:
		return "webm"
	case domain.FormatMP4:
		return "mp4"
	case domain.FormatOggOpus:
		return "ogg"
	default:
		return ""
	}
}

func encodeArgs(format domain.FormatID, hasEncoder func(string) bool) ([]string, error) {
	switch format {
	case domain.FormatWebMOpus:
		if hasEncoder("libopus") {
			return []string{"-c:a", "libopus", "-b:a", "64k", "-f", "webm"}, nil
		}
	case domain.FormatWebM:
		if hasEncoder("libopus") {
			return []string{"-c:a", "libopus", "-b:a", "64k", "-f", "webm"}, nil
		}
		if hasEncoder("libvorbis") {
			return []string{"-c:a", "libvorbis", "-q:a", "4", "-f", "webm"}, nil
		}
	case domain.FormatMP4:
		if hasEncoder("aac") {
			return []string{"-c:a", "aac", "-b:a", "96k", "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4"}, nil
		}
	case domain.FormatOggOpus:
		if hasEncoder("libopus") {
			return []string{"-c:a", "libopus", "-b:a", "64k", "-f", "ogg"}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// NewRecorder starts an ffmpeg encoder fed from the stream. Encoded output is delivered as chunk
// events every timeslice.
func (e *FFMPEGEncoder) NewRecorder(ctx context.Context, stream ports.AudioStream, format domain.FormatID, opts ports.RecorderOptions) (ports.Recorder, error) {
	e.probe()
	output, err := encodeArgs(format, e.hasEncoder)
	if err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.Timeslice <= 0 {
		opts.Timeslice = 100 * time.Millisecond
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(opts.SampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-flush_packets", "1",
	}
	args = append(args, output...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, e.command, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	recorder := &ffmpegRecorder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		events: make(chan domain.RecorderEvent, 64),
		logger: e.logger,
	}
	go recorder.feed(stream)
	go recorder.collect(stdout, opts.Timeslice)
	return recorder, nil
}

type ffmpegRecorder struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	events chan domain.RecorderEvent
	logger *zap.Logger

	inputMu     sync.Mutex
	stdin       io.WriteCloser
	inputClosed bool

	stopRequested atomic.Bool
}

func (r *ffmpegRecorder) Events() <-chan domain.RecorderEvent {
	return r.events
}

// Stop ends the encoder input; the encoder flushes and the finalize event follows.
func (r *ffmpegRecorder) Stop() error {
	r.stopRequested.Store(true)
	return r.closeInput()
}

func (r *ffmpegRecorder) closeInput() error {
	r.inputMu.Lock()
	defer r.inputMu.Unlock()
	if r.inputClosed {
		return nil
	}
	r.inputClosed = true
	return r.stdin.Close()
}

func (r *ffmpegRecorder) writeInput(data []byte) error {
	r.inputMu.Lock()
	defer r.inputMu.Unlock()
	if r.inputClosed {
		return nil
	}
	_, err := r.stdin.Write(data)
	return err
}

func (r *ffmpegRecorder) feed(stream io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if writeErr := r.writeInput(buf[:n]); writeErr != nil {
				r.logger.Debug("encoder input closed", zap.Error(writeErr))
				_ = r.closeInput()
				return
			}
		}
		if err != nil {
			_ = r.closeInput()
			return
		}
	}
}

func (r *ffmpegRecorder) collect(stdout io.Reader, timeslice time.Duration) {
	defer close(r.events)

	reads := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(reads)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				reads <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case data, ok := <-reads:
			if !ok {
				if len(pending) > 0 {
					r.events <- domain.RecorderEvent{Kind: domain.RecorderEventChunk, Data: pending}
				}
				r.events <- r.finalEvent(<-readErr)
				return
			}
			pending = append(pending, data...)
		case <-ticker.C:
			if len(pending) > 0 {
				r.events <- domain.RecorderEvent{Kind: domain.RecorderEventChunk, Data: pending}
				pending = nil
			}
		}
	}
}

func (r *ffmpegRecorder) finalEvent(readErr error) domain.RecorderEvent {
	waitErr := r.cmd.Wait()
	switch {
	case readErr != nil && !errors.Is(readErr, io.EOF):
		return domain.RecorderEvent{Kind: domain.RecorderEventError, Err: fmt.Errorf("failed to read encoder output: %w", readErr)}
	case waitErr != nil:
		return domain.RecorderEvent{Kind: domain.RecorderEventError, Err: fmt.Errorf("ffmpeg encoder failed: %w: %s", waitErr, stringsTrimSpaceSafe(r.stderr.String()))}
	case !r.stopRequested.Load():
		return domain.RecorderEvent{Kind: domain.RecorderEventError, Err: errInputEnded}
	default:
		return domain.RecorderEvent{Kind: domain.RecorderEventFinalized}
	}
}
