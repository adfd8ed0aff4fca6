package usecase

import (
	"context"
	"errors"
	"strings"

	"pairchat/internal/domain"
	"pairchat/internal/ports"
)

const (
	RemediationPermissionDenied = "Please allow microphone access in your settings."
	RemediationDeviceNotFound   = "Please connect a microphone."
	RemediationDeviceBusy       = "Please close other apps that are using the microphone."
	RemediationConstraints      = "Please try again."
	MessageRecorderFailed       = "Recording stopped unexpectedly. Please try again."
	MessageUnknownDeviceError   = "Could not access the microphone."
)

var deviceErrorCategories = map[string]domain.ErrorCategory{
	"NotAllowedError":             domain.ErrorCategoryPermissionDenied,
	"PermissionDeniedError":       domain.ErrorCategoryPermissionDenied,
	"SecurityError":               domain.ErrorCategoryPermissionDenied,
	"NotFoundError":               domain.ErrorCategoryDeviceNotFound,
	"DevicesNotFoundError":        domain.ErrorCategoryDeviceNotFound,
	"NotReadableError":            domain.ErrorCategoryDeviceBusy,
	"TrackStartError":             domain.ErrorCategoryDeviceBusy,
	"AbortError":                  domain.ErrorCategoryDeviceBusy,
	"OverconstrainedError":        domain.ErrorCategoryConstraintsUnsatisfiable,
	"ConstraintNotSatisfiedError": domain.ErrorCategoryConstraintsUnsatisfiable,
}

var remediations = map[domain.ErrorCategory]string{
	domain.ErrorCategoryPermissionDenied:         RemediationPermissionDenied,
	domain.ErrorCategoryDeviceNotFound:           RemediationDeviceNotFound,
	domain.ErrorCategoryDeviceBusy:               RemediationDeviceBusy,
	domain.ErrorCategoryConstraintsUnsatisfiable: RemediationConstraints,
}

// ClassifyDeviceError maps a device acquisition failure to the user-facing taxonomy.
func ClassifyDeviceError(err error) domain.ErrorRecord {
	category := deviceCategory(err)
	if remediation, ok := remediations[category]; ok {
		return domain.ErrorRecord{Category: category, Message: remediation}
	}

	message := MessageUnknownDeviceError
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		message = strings.TrimSpace(err.Error())
	}
	return domain.ErrorRecord{Category: domain.ErrorCategoryUnknown, Message: message}
}

// ClassifyRecorderError maps a failure raised while recording. Known device failures keep their
// remediation; anything else is a generic recorder failure.
func ClassifyRecorderError(err error) domain.ErrorRecord {
	if category := deviceCategory(err); category != domain.ErrorCategoryUnknown {
		return domain.ErrorRecord{Category: category, Message: remediations[category]}
	}
	return domain.ErrorRecord{Category: domain.ErrorCategoryRecorderRuntime, Message: MessageRecorderFailed}
}

func deviceCategory(err error) domain.ErrorCategory {
	switch {
	case err == nil:
		return domain.ErrorCategoryUnknown
	case errors.Is(err, ports.ErrPermissionDenied), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorCategoryPermissionDenied
	case errors.Is(err, ports.ErrDeviceNotFound):
		return domain.ErrorCategoryDeviceNotFound
	case errors.Is(err, ports.ErrDeviceBusy):
		return domain.ErrorCategoryDeviceBusy
	case errors.Is(err, ports.ErrConstraintsUnsatisfiable):
		return domain.ErrorCategoryConstraintsUnsatisfiable
	}

	var deviceErr *ports.DeviceError
	if errors.As(err, &deviceErr) {
		if category, ok := deviceErrorCategories[deviceErr.Name]; ok {
			return category
		}
	}
	return domain.ErrorCategoryUnknown
}
