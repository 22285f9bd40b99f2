// Package device abstracts host audio input behind a capability interface so
// the capture engines can run against real hardware or a scripted test
// backend. It also owns permission negotiation.
package device

import (
	"context"

	caperr "github.com/lingostream/capture/internal/errors"
)

// Access is the outcome of permission negotiation.
type Access int

const (
	AccessGranted Access = iota
	AccessDenied
	AccessUnsupported
	AccessInsecureContext
)

func (a Access) String() string {
	switch a {
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	case AccessUnsupported:
		return "unsupported"
	case AccessInsecureContext:
		return "insecure_context"
	default:
		return "unknown"
	}
}

// Err converts a non-granted outcome to its DeviceError. Granted maps to nil.
func (a Access) Err() *caperr.DeviceError {
	switch a {
	case AccessGranted:
		return nil
	case AccessDenied:
		return caperr.New(caperr.KindPermissionDenied)
	case AccessUnsupported:
		return caperr.New(caperr.KindUnsupportedConstraints)
	case AccessInsecureContext:
		return caperr.New(caperr.KindInsecureContext)
	default:
		return caperr.New(caperr.KindUnknownDevice)
	}
}

// StreamConfig describes a requested input stream.
type StreamConfig struct {
	SampleRate int // requested rate; the stream reports its actual rate
	FrameSize  int // samples per Read
	Channels   int // fixed at 1 for every caller in this repo
}

// InputStream is one open device stream. Read blocks until a full frame of
// FrameSize normalized samples is available; the returned slice is only valid
// until the next Read.
type InputStream interface {
	Read() ([]float32, error)
	SampleRate() int
	Close() error
}

// Backend is the host capability surface: permission probing plus stream
// acquisition. Implementations: PortAudio (production), mock.Backend (tests).
type Backend interface {
	QueryPermission(ctx context.Context) Access
	OpenInputStream(cfg StreamConfig) (InputStream, error)
}

// probeFrameSize is the buffer used for the verification acquisition.
const probeFrameSize = 256

// Negotiator resolves device access to one of four stable outcomes. It never
// fails hard: callers convert non-granted outcomes to DeviceErrors.
type Negotiator struct {
	backend       Backend
	secureContext bool
	allowInsecure bool
}

// NewNegotiator creates a negotiator. secureContext asserts the deployment
// environment (TLS terminated upstream); allowInsecure overrides the check
// for local development.
func NewNegotiator(backend Backend, secureContext, allowInsecure bool) *Negotiator {
	return &Negotiator{backend: backend, secureContext: secureContext, allowInsecure: allowInsecure}
}

// CheckAccess probes and, if the backend reports granted, verifies with a
// test acquisition that is released immediately regardless of outcome.
// Probe failures that are not permission or constraint problems still resolve
// to granted; the precise DeviceError surfaces when the real stream opens.
func (n *Negotiator) CheckAccess(ctx context.Context) Access {
	if !n.secureContext && !n.allowInsecure {
		return AccessInsecureContext
	}

	acc := n.backend.QueryPermission(ctx)
	if acc != AccessGranted {
		return acc
	}

	probe, err := n.backend.OpenInputStream(StreamConfig{FrameSize: probeFrameSize, Channels: 1})
	if err != nil {
		switch caperr.Classify(err).Kind {
		case caperr.KindPermissionDenied:
			return AccessDenied
		case caperr.KindUnsupportedConstraints:
			return AccessUnsupported
		default:
			return AccessGranted
		}
	}
	_ = probe.Close()
	return AccessGranted
}
