// Package mock provides a scriptable device backend for hardware-free tests.
package mock

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/lingostream/capture/internal/device"
)

// ErrClosed is returned by Read after the stream has been closed.
var ErrClosed = errors.New("mock: stream closed")

// Backend is a scriptable device.Backend. Zero value grants access and
// produces silence at 48000 Hz.
type Backend struct {
	Access     device.Access // outcome of QueryPermission
	OpenErr    error         // returned by OpenInputStream when non-nil
	SampleRate int           // actual stream rate; defaults to 48000
	Tone       float64       // sine frequency in Hz; 0 produces silence
	Amplitude  float32       // sine amplitude; defaults to 0.5 when Tone is set
	FailAfter  int           // Read fails with ReadErr after this many reads (0 = never)
	ReadErr    error         // error used by FailAfter

	mu      sync.Mutex
	opened  int
	closed  int
	streams []*Stream
}

// QueryPermission returns the scripted access outcome.
func (b *Backend) QueryPermission(_ context.Context) device.Access {
	return b.Access
}

// OpenInputStream opens a scripted stream or fails with OpenErr.
func (b *Backend) OpenInputStream(cfg device.StreamConfig) (device.InputStream, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	rate := b.SampleRate
	if rate == 0 {
		rate = 48000
	}
	frameSize := cfg.FrameSize
	if frameSize == 0 {
		frameSize = 256
	}

	s := &Stream{backend: b, rate: rate, frameSize: frameSize}

	b.mu.Lock()
	b.opened++
	b.streams = append(b.streams, s)
	b.mu.Unlock()
	return s, nil
}

// Opened returns how many streams have been acquired.
func (b *Backend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Closed returns how many streams have been released.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Leaked reports whether any acquired stream is still open.
func (b *Backend) Leaked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened != b.closed
}

// Stream is a scripted input stream producing a sine tone or silence.
type Stream struct {
	backend   *Backend
	rate      int
	frameSize int

	mu     sync.Mutex
	reads  int
	phase  float64
	buf    []float32
	closed bool
}

// Read produces one frame of synthetic samples.
func (s *Stream) Read() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	s.reads++
	if s.backend.FailAfter > 0 && s.reads > s.backend.FailAfter {
		err := s.backend.ReadErr
		if err == nil {
			err = errors.New("mock: scripted read failure")
		}
		return nil, err
	}

	if cap(s.buf) < s.frameSize {
		s.buf = make([]float32, s.frameSize)
	}
	buf := s.buf[:s.frameSize]

	if s.backend.Tone == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return buf, nil
	}

	amp := s.backend.Amplitude
	if amp == 0 {
		amp = 0.5
	}
	step := 2 * math.Pi * s.backend.Tone / float64(s.rate)
	for i := range buf {
		buf[i] = amp * float32(math.Sin(s.phase))
		s.phase += step
	}
	return buf, nil
}

// SampleRate returns the scripted device rate.
func (s *Stream) SampleRate() int { return s.rate }

// Close releases the stream; idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.backend.mu.Lock()
	s.backend.closed++
	s.backend.mu.Unlock()
	return nil
}

// Reads returns how many frames have been read from the stream.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
