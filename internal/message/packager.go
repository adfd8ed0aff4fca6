// Package message turns composer input and finished recordings into payloads for the paired
// session.
package message

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wailsapp/mimetype"
	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

// MaxImageBytes is the largest image accepted for sending.
const MaxImageBytes = 1 << 20

const (
	NoticeSendFailed       = "Message could not be sent. Please try again."
	NoticeAudioSendFailed  = "Voice message could not be sent. Please try again."
	NoticeImageTooLarge    = "Image is too large. The maximum size is 1 MB."
	NoticeUnsupportedImage = "Only image files can be sent."
	NoticeNotPaired        = "No chat partner is connected."
)

var (
	ErrOversizedPayload = errors.New("payload exceeds size limit")
	ErrUnsupportedImage = errors.New("file is not an image")
	ErrEmptyPayload     = errors.New("payload is empty")
	ErrNotPaired        = errors.New("session is not paired")
)

// ImageInput is an image picked by the user.
type ImageInput struct {
	Name string
	// Size is the size reported by the file system, checked before any data is read.
	Size int64
	Data io.Reader
}

// Notifier shows non-blocking notices.
type Notifier interface {
	Notice(code domain.NoticeCode, message string)
}

// Packager builds outbound payloads and sends them through the session channel.
type Packager struct {
	session  ports.SessionChannel
	notifier Notifier
	logger   *zap.Logger
}

func NewPackager(session ports.SessionChannel, notifier Notifier, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{session: session, notifier: notifier, logger: logger}
}

// SendAudio sends an assembled recording as a data URL of its recording format.
func (p *Packager) SendAudio(ctx context.Context, data []byte, format domain.FormatID) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	payload := domain.OutboundPayload{
		Content: dataURL(string(format), data),
		Kind:    domain.MessageKindAudio,
	}
	if err := p.send(ctx, payload); err != nil {
		p.notifySendFailure(err, NoticeAudioSendFailed)
		return err
	}
	return nil
}

// SendImage validates and sends an image. Oversized input is rejected before it is read.
func (p *Packager) SendImage(ctx context.Context, image ImageInput) error {
	if image.Size > MaxImageBytes {
		p.notifier.Notice(domain.NoticeCodePayloadTooLarge, NoticeImageTooLarge)
		return fmt.Errorf("%s is %d bytes: %w", image.Name, image.Size, ErrOversizedPayload)
	}

	data, err := io.ReadAll(io.LimitReader(image.Data, MaxImageBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", image.Name, err)
	}
	if len(data) > MaxImageBytes {
		p.notifier.Notice(domain.NoticeCodePayloadTooLarge, NoticeImageTooLarge)
		return fmt.Errorf("%s exceeds %d bytes: %w", image.Name, MaxImageBytes, ErrOversizedPayload)
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	mimeType := contentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		p.notifier.Notice(domain.NoticeCodeUnsupportedImage, NoticeUnsupportedImage)
		return fmt.Errorf("%s has content type %s: %w", image.Name, mimeType, ErrUnsupportedImage)
	}

	payload := domain.OutboundPayload{
		Content: dataURL(mimeType, data),
		Kind:    domain.MessageKindImage,
	}
	if err := p.send(ctx, payload); err != nil {
		p.notifySendFailure(err, NoticeSendFailed)
		return err
	}
	return nil
}

// SendText sends trimmed composer text. It returns the draft the composer should keep: empty after a
// successful send, the original input otherwise.
func (p *Packager) SendText(ctx context.Context, input string) (string, error) {
	text := strings.TrimSpace(input)
	if text == "" || !p.session.IsPaired() {
		return input, nil
	}

	payload := domain.OutboundPayload{Content: text, Kind: domain.MessageKindText}
	if err := p.send(ctx, payload); err != nil {
		p.notifySendFailure(err, NoticeSendFailed)
		return input, err
	}
	return "", nil
}

func (p *Packager) send(ctx context.Context, payload domain.OutboundPayload) error {
	if !p.session.IsPaired() {
		return ErrNotPaired
	}
	if err := p.session.SendMessage(ctx, payload.Content, payload.Kind); err != nil {
		p.logger.Warn("message send failed",
			zap.String("kind", string(payload.Kind)),
			zap.Int("bytes", len(payload.Content)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s message: %w", payload.Kind, err)
	}
	p.logger.Debug("message sent", zap.String("kind", string(payload.Kind)), zap.Int("bytes", len(payload.Content)))
	return nil
}

func (p *Packager) notifySendFailure(err error, message string) {
	if errors.Is(err, ErrNotPaired) {
		p.notifier.Notice(domain.NoticeCodeNotPaired, NoticeNotPaired)
		return
	}
	p.notifier.Notice(domain.NoticeCodeSendFailed, message)
}

// contentType sniffs data and returns its MIME type without parameters.
func contentType(data []byte) string {
	detected, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(detected)
}

func dataURL(mimeType string, data []byte) string {
	var buf bytes.Buffer
	buf.Grow(len(mimeType) + 13 + base64.StdEncoding.EncodedLen(len(data)))
	buf.WriteString("data:")
	buf.WriteString(mimeType)
	buf.WriteString(";base64,")
	buf.WriteString(base64.StdEncoding.EncodeToString(data))
	return buf.String()
}
