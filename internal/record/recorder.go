package record

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

// State is the recorder's lifecycle state.
type State int

const (
	StateInactive State = iota
	StateArmed
	StateRecording
	StateFlushing
)

func (s State) String() string {
	return [...]string{"inactive", "armed", "recording", "flushing"}[s]
}

// Opts configures one recording cycle.
type Opts struct {
	MaxDuration   time.Duration // hard cutoff; the cycle force-stops here
	SampleRate    int
	Bitrate       int
	ChunkInterval time.Duration
	MinClipBytes  int       // silence heuristic floor
	Encodings     []Factory // nil selects DefaultEncodings
}

func (o Opts) withDefaults() Opts {
	if o.MaxDuration == 0 {
		o.MaxDuration = 60 * time.Second
	}
	if o.SampleRate == 0 {
		o.SampleRate = 48000
	}
	if o.ChunkInterval == 0 {
		o.ChunkInterval = 100 * time.Millisecond
	}
	if o.MinClipBytes == 0 {
		o.MinClipBytes = 1000
	}
	if o.Encodings == nil {
		o.Encodings = DefaultEncodings()
	}
	return o
}

// Clip is one completed compressed recording.
type Clip struct {
	Data     []byte
	MimeType string
	Chunks   int
	Duration time.Duration
}

// Result is the outcome of one recording cycle: exactly one of Clip or Err.
// The result carries no record of whether a manual stop or the cutoff timer
// ended the cycle.
type Result struct {
	Clip *Clip
	Err  error
}

// Recorder records one bounded-duration compressed clip per cycle. At most
// one cycle is active at a time; a Start while armed or recording is ignored.
type Recorder struct {
	backend device.Backend
	neg     *device.Negotiator
	state   *syncx.Guard[State]
	results chan Result

	mu  sync.Mutex
	cyc *cycle
}

// NewRecorder creates a recorder over the given backend.
func NewRecorder(backend device.Backend, neg *device.Negotiator) *Recorder {
	return &Recorder{
		backend: backend,
		neg:     neg,
		state:   syncx.NewGuard(StateInactive),
		results: make(chan Result, 4),
	}
}

// Results delivers each cycle's outcome: a clip or a classified error.
func (r *Recorder) Results() <-chan Result { return r.results }

// State returns the current lifecycle state.
func (r *Recorder) State() State { return r.state.Get() }

// cycle owns every resource of one recording: the device stream, the
// encoder, and both timers. Its finish path runs exactly once no matter how
// many stop triggers race.
type cycle struct {
	opts    Opts
	mime    string
	stream  device.InputStream
	rs      *audio.Resampler
	cancel  context.CancelFunc
	started time.Time

	cutoff *time.Timer
	ticker *time.Ticker

	readerDone chan struct{}
	flushDone  chan struct{}
	finishOnce sync.Once

	encMu sync.Mutex
	enc   Encoder

	chunkMu sync.Mutex
	chunks  [][]byte
	total   int
	readErr *caperr.DeviceError
}

// Start arms and begins a recording cycle. Failures return a classified
// DeviceError and leave the recorder Inactive.
func (r *Recorder) Start(ctx context.Context, opts Opts) error {
	opts = opts.withDefaults()

	if !r.state.TransitionFrom(StateInactive, StateArmed) {
		slog.Debug("record start ignored, recorder not inactive", "state", r.State().String())
		return nil
	}

	if acc := r.neg.CheckAccess(ctx); acc != device.AccessGranted {
		r.state.Set(StateInactive)
		return acc.Err()
	}

	factory := Negotiate(opts.Encodings, opts)
	enc, err := factory.New(opts)
	if err != nil {
		r.state.Set(StateInactive)
		return caperr.Classify(err)
	}

	in, err := r.backend.OpenInputStream(device.StreamConfig{
		SampleRate: opts.SampleRate,
		FrameSize:  opts.SampleRate / 50, // 20 ms reads
		Channels:   1,
	})
	if err != nil {
		r.state.Set(StateInactive)
		return caperr.Classify(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cyc := &cycle{
		opts:       opts,
		mime:       factory.Mime,
		stream:     in,
		rs:         audio.NewResampler(in.SampleRate(), opts.SampleRate),
		cancel:     cancel,
		started:    time.Now(),
		ticker:     time.NewTicker(opts.ChunkInterval),
		readerDone: make(chan struct{}),
		flushDone:  make(chan struct{}),
		enc:        enc,
	}
	cyc.cutoff = time.AfterFunc(opts.MaxDuration, func() {
		slog.Info("recording cutoff reached", "max", opts.MaxDuration)
		r.finish(cyc)
	})

	r.mu.Lock()
	r.cyc = cyc
	r.mu.Unlock()

	go r.readLoop(runCtx, cyc)
	go r.flushLoop(runCtx, cyc)
	r.state.Set(StateRecording)
	slog.Info("recording started", "mime", cyc.mime, "rate", opts.SampleRate, "max", opts.MaxDuration)
	return nil
}

// readLoop feeds device input through the resampler into the encoder. No
// blocking I/O happens here beyond the device read itself.
func (r *Recorder) readLoop(ctx context.Context, cyc *cycle) {
	defer close(cyc.readerDone)

	for {
		select {
		case <-ctx.Done():
			// Owner context cancelled. During a normal finish this is the
			// expected exit; a bare cancellation instead rides the same
			// once-only finish so the device and encoder are never left held.
			go r.finish(cyc)
			return
		default:
		}

		buf, err := cyc.stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				go r.finish(cyc)
				return
			}
			derr := caperr.Classify(err)
			cyc.chunkMu.Lock()
			cyc.readErr = derr
			cyc.chunkMu.Unlock()
			go r.finish(cyc)
			return
		}

		pcm := audio.ToPCM16(cyc.rs.Process(buf))
		cyc.encMu.Lock()
		encErr := cyc.enc.Encode(pcm)
		cyc.encMu.Unlock()
		if encErr != nil {
			cyc.chunkMu.Lock()
			cyc.readErr = caperr.Classify(encErr)
			cyc.chunkMu.Unlock()
			go r.finish(cyc)
			return
		}
	}
}

// flushLoop drains the encoder on every tick so memory growth stays bounded
// and partial output is inspectable before the clip completes.
func (r *Recorder) flushLoop(ctx context.Context, cyc *cycle) {
	defer close(cyc.flushDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cyc.ticker.C:
			cyc.encMu.Lock()
			chunk := cyc.enc.Flush()
			cyc.encMu.Unlock()
			cyc.appendChunk(chunk)
		}
	}
}

// appendChunk records a delivered chunk; empty chunks are ignored.
func (c *cycle) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.chunkMu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.total += len(chunk)
	c.chunkMu.Unlock()
}

// Stop ends the active cycle. Idempotent: a Stop with no active cycle is a
// no-op. The outcome arrives on Results.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cyc := r.cyc
	r.mu.Unlock()
	if cyc == nil {
		return
	}
	r.finish(cyc)
}

// finish is the single terminal path shared by manual stop, the cutoff
// timer, and mid-cycle failures. It cancels both timers, releases the device
// and encoder, assembles the clip, and only then exposes the Inactive state.
func (r *Recorder) finish(cyc *cycle) {
	cyc.finishOnce.Do(func() {
		r.state.Set(StateFlushing)

		cyc.cutoff.Stop()
		cyc.ticker.Stop()
		cyc.cancel()
		_ = cyc.stream.Close()
		<-cyc.readerDone
		<-cyc.flushDone

		cyc.encMu.Lock()
		cyc.appendChunk(cyc.enc.Flush())
		tail, err := cyc.enc.Finish()
		cyc.encMu.Unlock()
		if err != nil {
			slog.Warn("encoder finish failed", "error", err)
		}
		cyc.appendChunk(tail)

		result := cyc.assemble()

		r.mu.Lock()
		if r.cyc == cyc {
			r.cyc = nil
		}
		r.mu.Unlock()
		r.state.Set(StateInactive)

		select {
		case r.results <- result:
		default:
			slog.Warn("results channel full, dropping recording result")
		}

		if result.Err != nil {
			slog.Info("recording finished without clip", "error", result.Err)
		} else {
			slog.Info("recording finished", "mime", result.Clip.MimeType,
				"bytes", len(result.Clip.Data), "chunks", result.Clip.Chunks)
		}
	})
}

// assemble validates the accumulated chunks and builds the clip.
func (c *cycle) assemble() Result {
	c.chunkMu.Lock()
	defer c.chunkMu.Unlock()

	if c.readErr != nil {
		return Result{Err: c.readErr}
	}
	if len(c.chunks) == 0 {
		return Result{Err: caperr.New(caperr.KindEmptyRecording)}
	}
	if c.total < c.opts.MinClipBytes {
		return Result{Err: caperr.New(caperr.KindSilentRecording)}
	}

	data := make([]byte, 0, c.total)
	for _, chunk := range c.chunks {
		data = append(data, chunk...)
	}
	return Result{Clip: &Clip{
		Data:     data,
		MimeType: c.mime,
		Chunks:   len(c.chunks),
		Duration: time.Since(c.started),
	}}
}
