package record

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lingostream/capture/internal/device"
	"github.com/lingostream/capture/internal/device/mock"
	caperr "github.com/lingostream/capture/internal/errors"
)

func newTestRecorder(b *mock.Backend) *Recorder {
	return NewRecorder(b, device.NewNegotiator(b, true, false))
}

// scriptedEncoder emits a fixed byte budget across flushes, for exercising
// the clip guards without depending on codec output sizes.
type scriptedEncoder struct {
	mu      sync.Mutex
	flushes [][]byte
	i       int
	tail    []byte
}

func (f *scriptedEncoder) Encode([]int16) error { return nil }

func (f *scriptedEncoder) Flush() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i < len(f.flushes) {
		b := f.flushes[f.i]
		f.i++
		return b
	}
	return nil
}

func (f *scriptedEncoder) Finish() ([]byte, error) { return f.tail, nil }

func scriptedEncodings(enc Encoder) []Factory {
	return []Factory{{
		Mime:      "audio/test",
		Supported: func(Opts) bool { return true },
		New:       func(Opts) (Encoder, error) { return enc, nil },
	}}
}

func awaitResult(t *testing.T, r *Recorder) Result {
	t.Helper()
	select {
	case res := <-r.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no recording result delivered")
		return Result{}
	}
}

func testOpts(encs []Factory) Opts {
	return Opts{
		MaxDuration:   10 * time.Second,
		SampleRate:    48000,
		ChunkInterval: 10 * time.Millisecond,
		Encodings:     encs,
	}
}

// oggOpts disables the silence floor so real-codec tests do not depend on how
// much audio the scripted device produces before Stop.
func oggOpts() Opts {
	o := testOpts(nil)
	o.MinClipBytes = 1
	return o
}

func TestRecordProducesOggClip(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	if err := r.Start(context.Background(), oggOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.State() != StateRecording {
		t.Errorf("state = %v, want recording", r.State())
	}

	time.Sleep(50 * time.Millisecond)
	r.Stop()

	res := awaitResult(t, r)
	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	clip := res.Clip
	if clip.MimeType != "audio/ogg;codecs=opus" {
		t.Errorf("mime = %q, want negotiated ogg opus", clip.MimeType)
	}
	if clip.Chunks < 1 {
		t.Errorf("chunks = %d, want >= 1", clip.Chunks)
	}
	if !bytes.HasPrefix(clip.Data, []byte("OggS")) {
		t.Error("clip does not start with an Ogg page")
	}
	if !bytes.Contains(clip.Data[:64], []byte("OpusHead")) {
		t.Error("clip missing Opus identification header")
	}

	if r.State() != StateInactive {
		t.Errorf("state = %v after stop, want inactive", r.State())
	}
	if b.Leaked() {
		t.Error("device stream leaked")
	}
}

func TestEmptyRecordingEmitsNoClip(t *testing.T) {
	b := &mock.Backend{SampleRate: 48000}
	r := newTestRecorder(b)

	enc := &scriptedEncoder{} // never produces bytes
	if err := r.Start(context.Background(), testOpts(scriptedEncodings(enc))); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	r.Stop()

	res := awaitResult(t, r)
	if !caperr.IsKind(res.Err, caperr.KindEmptyRecording) {
		t.Errorf("err = %v, want EmptyRecording", res.Err)
	}
	if res.Clip != nil {
		t.Error("no clip may be emitted for an empty recording")
	}
	if b.Leaked() {
		t.Error("device stream leaked on the failure path")
	}
}

func TestSilentRecordingEmitsNoClip(t *testing.T) {
	b := &mock.Backend{SampleRate: 48000}
	r := newTestRecorder(b)

	enc := &scriptedEncoder{flushes: [][]byte{make([]byte, 400)}} // under the 1000-byte floor
	if err := r.Start(context.Background(), testOpts(scriptedEncodings(enc))); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	res := awaitResult(t, r)
	if !caperr.IsKind(res.Err, caperr.KindSilentRecording) {
		t.Errorf("err = %v, want SilentRecording", res.Err)
	}
	if res.Clip != nil {
		t.Error("no clip may be emitted for a silent recording")
	}
}

func TestClipAboveFloorIsEmitted(t *testing.T) {
	b := &mock.Backend{SampleRate: 48000}
	r := newTestRecorder(b)

	enc := &scriptedEncoder{flushes: [][]byte{make([]byte, 600), make([]byte, 600)}}
	if err := r.Start(context.Background(), testOpts(scriptedEncodings(enc))); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	r.Stop()

	res := awaitResult(t, r)
	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if len(res.Clip.Data) != 1200 {
		t.Errorf("clip bytes = %d, want 1200", len(res.Clip.Data))
	}
	if res.Clip.Chunks != 2 {
		t.Errorf("chunks = %d, want 2", res.Clip.Chunks)
	}
	if res.Clip.MimeType != "audio/test" {
		t.Errorf("mime = %q, want the negotiated test encoding", res.Clip.MimeType)
	}
}

func TestCutoffEmitsExactlyOneClip(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	opts := oggOpts()
	opts.MaxDuration = 80 * time.Millisecond
	if err := r.Start(context.Background(), opts); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No manual stop: the cutoff timer must finish the cycle on its own.
	res := awaitResult(t, r)
	if res.Err != nil {
		t.Fatalf("cutoff result error: %v", res.Err)
	}
	if r.State() != StateInactive {
		t.Errorf("state = %v after cutoff, want inactive", r.State())
	}

	// The timer must not fire again, and a late manual stop is a no-op.
	r.Stop()
	select {
	case extra := <-r.Results():
		t.Errorf("second result after cutoff: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
	if b.Leaked() {
		t.Error("cutoff path leaked the device stream")
	}
}

func TestStopIdempotent(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	if err := r.Start(context.Background(), oggOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop() // second stop while Inactive is a no-op

	awaitResult(t, r)
	select {
	case extra := <-r.Results():
		t.Errorf("double stop produced a second result: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if closed, opened := b.Closed(), b.Opened(); closed != opened {
		t.Errorf("resource state after double stop: %d opened, %d closed", opened, closed)
	}
}

func TestStartWhileRecordingIsNoOp(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	if err := r.Start(context.Background(), oggOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		r.Stop()
		awaitResult(t, r)
	}()

	opened := b.Opened()
	if err := r.Start(context.Background(), oggOpts()); err != nil {
		t.Errorf("second start should be a no-op, got %v", err)
	}
	if b.Opened() != opened {
		t.Error("second start acquired a device")
	}
}

func TestStartPermissionDenied(t *testing.T) {
	b := &mock.Backend{Access: device.AccessDenied}
	r := newTestRecorder(b)

	err := r.Start(context.Background(), testOpts(nil))
	if !caperr.IsKind(err, caperr.KindPermissionDenied) {
		t.Errorf("err = %v, want PermissionDenied", err)
	}
	if r.State() != StateInactive {
		t.Errorf("state = %v, want inactive", r.State())
	}
}

func TestOwnerContextCancelFinishesCycle(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx, oggOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	// Cancelling the owner context alone must run the finish path: the cycle
	// may not stay Recording with the device and encoder held.
	cancel()
	awaitResult(t, r)
	if r.State() != StateInactive {
		t.Errorf("state = %v after cancellation, want inactive", r.State())
	}
	if b.Leaked() {
		t.Error("cancelled recording leaked the device stream")
	}

	// A fresh cycle must be accepted afterwards.
	if err := r.Start(context.Background(), oggOpts()); err != nil {
		t.Fatalf("restart after cancellation: %v", err)
	}
	r.Stop()
	awaitResult(t, r)
}

func TestConsecutiveCyclesAreIndependent(t *testing.T) {
	b := &mock.Backend{Tone: 440, SampleRate: 48000}
	r := newTestRecorder(b)

	for i := 0; i < 2; i++ {
		if err := r.Start(context.Background(), oggOpts()); err != nil {
			t.Fatalf("cycle %d start: %v", i, err)
		}
		time.Sleep(40 * time.Millisecond)
		r.Stop()
		res := awaitResult(t, r)
		if res.Err != nil {
			t.Fatalf("cycle %d: %v", i, res.Err)
		}
		if !bytes.HasPrefix(res.Clip.Data, []byte("OggS")) {
			t.Errorf("cycle %d clip is not a fresh Ogg stream", i)
		}
	}
	if b.Leaked() {
		t.Error("streams leaked across cycles")
	}
}
