package usecase

import (
	"context"

	"go.uber.org/zap"

	"pairchat/internal/domain"
)

// AudioSender hands a finished recording to the messaging session.
type AudioSender interface {
	SendAudio(ctx context.Context, data []byte, format domain.FormatID) error
}

type recordingFinalizer struct {
	sender AudioSender
	logger *zap.Logger
}

func newRecordingFinalizer(sender AudioSender, logger *zap.Logger) recordingFinalizer {
	return recordingFinalizer{sender: sender, logger: logger}
}

// Finalize forwards an assembled recording. Empty recordings are dropped without a notice;
// send failures are reported by the sender and only reflected in the returned reason.
func (f recordingFinalizer) Finalize(ctx context.Context, payload []byte, format domain.FormatID) domain.CaptureStateReason {
	if len(payload) == 0 {
		f.logger.Debug("recording empty, nothing to send")
		return domain.CaptureReasonRecordingEmpty
	}

	if err := f.sender.SendAudio(ctx, payload, format); err != nil {
		f.logger.Warn("sending recording failed",
			zap.Int("bytes", len(payload)),
			zap.String("format", string(format)),
			zap.Error(err))
		return domain.CaptureReasonSendFailed
	}

	f.logger.Info("recording sent", zap.Int("bytes", len(payload)), zap.String("format", string(format)))
	return domain.CaptureReasonRecordingSent
}
