// Package stream implements the continuous capture engine: it slices live
// microphone input into fixed-size frames, converts them to 16-bit PCM at the
// declared wire rate, and delivers them without ever blocking the capture
// path.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lingostream/capture/internal/audio"
	"github.com/lingostream/capture/internal/device"
	caperr "github.com/lingostream/capture/internal/errors"
	"github.com/lingostream/capture/internal/syncx"
)

// State is the engine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateStopping
)

func (s State) String() string {
	return [...]string{"idle", "initializing", "active", "stopping"}[s]
}

// Config describes one streaming capture cycle.
type Config struct {
	TargetSampleRate int // rate consumers receive; device input is resampled to match
	FrameSize        int // samples per delivered frame
	Channels         int
}

func (c Config) withDefaults() Config {
	if c.TargetSampleRate == 0 {
		c.TargetSampleRate = 24000
	}
	if c.FrameSize == 0 {
		c.FrameSize = 2048
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	return c
}

// Frame is one fixed-length buffer of 16-bit signed PCM samples, delivered in
// arrival order. Frames are not retained by the engine after delivery.
type Frame struct {
	PCM       []int16
	Seq       uint64
	Timestamp int64 // unix nanos at conversion time
}

// Engine is the streaming capture engine. At most one capture session is
// active at a time; a Start while active is ignored.
type Engine struct {
	backend device.Backend
	neg     *device.Negotiator
	state   *syncx.Guard[State]
	frames  chan Frame
	errs    chan *caperr.DeviceError

	mu   sync.Mutex
	sess *captureSession
}

// New creates a streaming engine over the given backend.
func New(backend device.Backend, neg *device.Negotiator) *Engine {
	return &Engine{
		backend: backend,
		neg:     neg,
		state:   syncx.NewGuard(StateIdle),
		frames:  make(chan Frame, 32),
		errs:    make(chan *caperr.DeviceError, 4),
	}
}

// Frames returns the channel delivering converted frames.
func (e *Engine) Frames() <-chan Frame { return e.frames }

// Errors returns the channel delivering capture errors.
func (e *Engine) Errors() <-chan *caperr.DeviceError { return e.errs }

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state.Get() }

// captureSession exclusively owns one device stream and its processing
// handle. teardown runs once, from whichever exit path gets there first, and
// releases the processing stage, the reader, then the device stream.
type captureSession struct {
	stream device.InputStream
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *captureSession) teardown() {
	s.once.Do(func() {
		s.cancel()
		_ = s.stream.Close()
	})
}

// Start begins a capture cycle. Permission failures and device-open failures
// return a classified DeviceError and leave the engine Idle. A Start while
// already active is a no-op.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	if !e.state.TransitionFrom(StateIdle, StateInitializing) {
		slog.Debug("stream start ignored, engine not idle", "state", e.State().String())
		return nil
	}

	if acc := e.neg.CheckAccess(ctx); acc != device.AccessGranted {
		e.state.Set(StateIdle)
		derr := acc.Err()
		e.reportError(derr)
		return derr
	}

	in, err := e.backend.OpenInputStream(device.StreamConfig{
		SampleRate: cfg.TargetSampleRate,
		FrameSize:  cfg.FrameSize,
		Channels:   cfg.Channels,
	})
	if err != nil {
		e.state.Set(StateIdle)
		derr := caperr.Classify(err)
		e.reportError(derr)
		return derr
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess := &captureSession{stream: in, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.sess = sess
	e.mu.Unlock()

	rs := audio.NewResampler(in.SampleRate(), cfg.TargetSampleRate)
	if !rs.Passthrough() {
		slog.Info("resampling device input", "device_rate", in.SampleRate(), "target_rate", cfg.TargetSampleRate)
	}

	go e.run(runCtx, sess, rs, cfg)
	e.state.Set(StateActive)
	slog.Info("stream capture started", "rate", cfg.TargetSampleRate, "frame_size", cfg.FrameSize)
	return nil
}

// run is the capture loop. It performs no blocking I/O besides the device
// read itself; frame delivery is a non-blocking channel send.
func (e *Engine) run(ctx context.Context, sess *captureSession, rs *audio.Resampler, cfg Config) {
	defer close(sess.done)

	pending := make([]float32, 0, cfg.FrameSize*2)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			// Owner context cancelled. A normal Stop also lands here after
			// teardown; errorStop is a no-op then. For a bare cancellation it
			// is the cleanup path, so the engine never stays Active with a
			// dead reader.
			go e.errorStop(sess)
			return
		default:
		}

		buf, err := sess.stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				go e.errorStop(sess)
				return
			}
			derr := caperr.Classify(err)
			e.reportError(derr)
			go e.errorStop(sess)
			return
		}

		pending = append(pending, rs.Process(buf)...)
		for len(pending) >= cfg.FrameSize {
			frame := Frame{
				PCM:       audio.ToPCM16(pending[:cfg.FrameSize]),
				Seq:       seq,
				Timestamp: time.Now().UnixNano(),
			}
			seq++
			pending = append(pending[:0], pending[cfg.FrameSize:]...)

			select {
			case e.frames <- frame:
			default:
				slog.Debug("frame buffer full, dropping frame", "seq", frame.Seq)
			}
		}
	}
}

// Stop ends the capture cycle and releases every resource. Idempotent: a
// second call while already Idle is a no-op.
func (e *Engine) Stop() {
	if !e.state.TransitionFrom(StateActive, StateStopping) {
		return
	}

	e.mu.Lock()
	sess := e.sess
	e.sess = nil
	e.mu.Unlock()

	if sess != nil {
		sess.teardown()
		<-sess.done
	}
	e.state.Set(StateIdle)
	slog.Info("stream capture stopped")
}

// errorStop is the forced-cleanup path for mid-stream failures. Observably
// identical to Stop: same teardown, same terminal state.
func (e *Engine) errorStop(sess *captureSession) {
	if !e.state.TransitionFrom(StateActive, StateStopping) {
		return
	}

	e.mu.Lock()
	if e.sess == sess {
		e.sess = nil
	}
	e.mu.Unlock()

	sess.teardown()
	<-sess.done
	e.state.Set(StateIdle)
	slog.Info("stream capture stopped after error")
}

func (e *Engine) reportError(derr *caperr.DeviceError) {
	select {
	case e.errs <- derr:
	default:
		slog.Warn("error channel full, dropping capture error", "kind", derr.Kind.String())
	}
}
