package usecase

import (
	"errors"

	"github.com/samber/lo"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

var ErrNoSupportedFormat = errors.New("no supported audio format")

// MessageNoSupportedFormat is shown when negotiation fails.
const MessageNoSupportedFormat = "Your browser does not support any audio recording format."

// SelectEncoding picks the first format in domain.PreferredFormats the environment supports.
func SelectEncoding(env ports.Environment) (domain.FormatID, error) {
	format, ok := lo.Find(domain.PreferredFormats, env.IsFormatSupported)
	if !ok {
		return "", ErrNoSupportedFormat
	}
	return format, nil
}
