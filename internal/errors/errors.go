// Package errors provides the classified error taxonomy shared by both
// capture paths. Classification happens once, at the device boundary, and the
// resulting DeviceError travels downstream unchanged.
package errors

import (
	"fmt"
	"strings"
)

// Kind identifies a stable error category.
type Kind int

const (
	KindUnknownDevice Kind = iota
	KindPermissionDenied
	KindDeviceNotFound
	KindDeviceBusy
	KindUnsupportedConstraints
	KindInsecureContext
	KindEmptyRecording
	KindSilentRecording
	KindConfigurationError
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindDeviceBusy:
		return "device_busy"
	case KindUnsupportedConstraints:
		return "unsupported_constraints"
	case KindInsecureContext:
		return "insecure_context"
	case KindEmptyRecording:
		return "empty_recording"
	case KindSilentRecording:
		return "silent_recording"
	case KindConfigurationError:
		return "configuration_error"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown_device_error"
	}
}

// remediation maps each kind to an actionable user-facing message.
var remediation = map[Kind]string{
	KindPermissionDenied:       "Microphone access was denied. Grant microphone permission and try again.",
	KindDeviceNotFound:         "No microphone was found. Connect an input device and try again.",
	KindDeviceBusy:             "The microphone is in use by another application. Close it and try again.",
	KindUnsupportedConstraints: "The requested audio format is not supported by this device.",
	KindInsecureContext:        "Audio capture requires a secure context. Serve the app over HTTPS.",
	KindEmptyRecording:         "No audio was captured. Check that the microphone is working.",
	KindSilentRecording:        "The recording was silent or too short. Speak closer to the microphone.",
	KindConfigurationError:     "The service is missing required configuration. Contact the operator.",
	KindInvalidRequest:         "The request was malformed and cannot be processed.",
	KindUnknownDevice:          "An unexpected audio device error occurred. Try again.",
}

// Remediation returns the user-facing message for a kind.
func Remediation(k Kind) string { return remediation[k] }

// DeviceError is the classified error carried by every capture failure.
type DeviceError struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *DeviceError) Unwrap() error { return e.Cause }

// New creates a DeviceError with the kind's standard remediation message.
func New(kind Kind) *DeviceError {
	return &DeviceError{Kind: kind, Message: remediation[kind]}
}

// Newf creates a DeviceError with a custom formatted message.
func Newf(kind Kind, format string, args ...any) *DeviceError {
	return &DeviceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and its remediation message to an existing error.
func Wrap(err error, kind Kind) *DeviceError {
	return &DeviceError{Kind: kind, Message: remediation[kind], Cause: err}
}

// WithMetadata adds metadata to a DeviceError.
func (e *DeviceError) WithMetadata(key, value string) *DeviceError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// IsKind checks if an error is a DeviceError of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := err.(*DeviceError)
	return ok && de.Kind == kind
}

// Classify maps a low-level device/backend failure to a DeviceError. It is
// called exactly once, at the boundary where the failure surfaces; an error
// that is already classified passes through unchanged.
func Classify(err error) *DeviceError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DeviceError); ok {
		return de
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "not allowed", "access denied"):
		return Wrap(err, KindPermissionDenied)
	case containsAny(msg, "no default input", "no such device", "invalid device", "device not found"):
		return Wrap(err, KindDeviceNotFound)
	case containsAny(msg, "device unavailable", "busy", "in use"):
		return Wrap(err, KindDeviceBusy)
	case containsAny(msg, "invalid sample rate", "sample format", "invalid number of channels", "incompatible"):
		return Wrap(err, KindUnsupportedConstraints)
	default:
		return Wrap(err, KindUnknownDevice)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
