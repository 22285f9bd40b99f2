// Package orchestrator coordinates the streaming engine and the clip recorder
// behind one control surface and merges their outputs into a single event
// feed for the transport layer.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lingostream/capture/internal/record"
	"github.com/lingostream/capture/internal/stream"
)

// EventType discriminates merged capture events.
type EventType int

const (
	EventFrameReady EventType = iota
	EventClipReady
	EventCaptureError
)

func (t EventType) String() string {
	return [...]string{"frame_ready", "clip_ready", "capture_error"}[t]
}

// Event is one item on the merged feed. Exactly one payload field is set,
// selected by Type.
type Event struct {
	Type  EventType
	Frame *stream.Frame
	Clip  *record.Clip
	Err   error
}

// Orchestrator owns both capture paths. The two run independently: streaming
// and recording can be active at the same time, each on its own device
// stream.
type Orchestrator struct {
	engine   *stream.Engine
	recorder *record.Recorder

	streamCfg  stream.Config
	recordOpts record.Opts

	events chan Event

	startOnce sync.Once
	cancel    context.CancelFunc
	pumpDone  chan struct{}
}

// New creates an orchestrator over an engine and recorder with their
// per-cycle defaults.
func New(engine *stream.Engine, recorder *record.Recorder, streamCfg stream.Config, recordOpts record.Opts) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		recorder:   recorder,
		streamCfg:  streamCfg,
		recordOpts: recordOpts,
		events:     make(chan Event, 64),
		pumpDone:   make(chan struct{}),
	}
}

// Events returns the merged event feed. The channel closes after Shutdown.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Run starts the event pump. Idempotent; the pump exits when ctx is done or
// Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) {
	o.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		o.cancel = cancel
		go o.pump(runCtx)
	})
}

// pump merges the engine and recorder outputs into the event feed. Frames
// dominate the feed; the large buffer plus drop-on-full keeps a slow consumer
// from stalling capture.
func (o *Orchestrator) pump(ctx context.Context) {
	defer close(o.pumpDone)
	defer close(o.events)

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-o.engine.Frames():
			o.emit(Event{Type: EventFrameReady, Frame: &f})
		case derr := <-o.engine.Errors():
			o.emit(Event{Type: EventCaptureError, Err: derr})
		case res := <-o.recorder.Results():
			if res.Err != nil {
				o.emit(Event{Type: EventCaptureError, Err: res.Err})
			} else {
				o.emit(Event{Type: EventClipReady, Clip: res.Clip})
			}
		}
	}
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		slog.Debug("event feed full, dropping event", "type", ev.Type.String())
	}
}

// StartStream begins continuous frame capture. Errors are classified
// DeviceErrors; they also appear on the event feed.
func (o *Orchestrator) StartStream(ctx context.Context) error {
	return o.engine.Start(ctx, o.streamCfg)
}

// StopStream ends continuous capture.
func (o *Orchestrator) StopStream() {
	o.engine.Stop()
}

// StartRecording begins one bounded clip recording.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	return o.recorder.Start(ctx, o.recordOpts)
}

// StopRecording ends the active recording; the clip or error arrives on the
// event feed.
func (o *Orchestrator) StopRecording() {
	o.recorder.Stop()
}

// StreamState reports the streaming engine state.
func (o *Orchestrator) StreamState() stream.State { return o.engine.State() }

// RecordState reports the recorder state.
func (o *Orchestrator) RecordState() record.State { return o.recorder.State() }

// Shutdown stops both capture paths and the event pump.
func (o *Orchestrator) Shutdown() {
	o.engine.Stop()
	o.recorder.Stop()
	if o.cancel != nil {
		o.cancel()
		<-o.pumpDone
	}
}
