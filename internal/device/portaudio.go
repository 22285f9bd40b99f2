package device

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio is the production Backend over the host's default input device.
type PortAudio struct {
	initOnce    sync.Once
	initErr     error
	initialized bool
}

// NewPortAudio creates the portaudio backend. Library initialization is
// deferred to first use so constructing the backend never touches hardware.
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

func (p *PortAudio) init() error {
	p.initOnce.Do(func() {
		p.initErr = portaudio.Initialize()
		p.initialized = p.initErr == nil
	})
	return p.initErr
}

// QueryPermission reports whether the host audio subsystem is usable.
// Portaudio has no separate consent prompt; a failed initialization means the
// platform cannot capture at all.
func (p *PortAudio) QueryPermission(_ context.Context) Access {
	if err := p.init(); err != nil {
		return AccessUnsupported
	}
	return AccessGranted
}

// OpenInputStream opens the default input device. If the device rejects the
// requested rate the stream falls back to the device's native rate; callers
// resample, so consumers still see the declared rate.
func (p *PortAudio) OpenInputStream(cfg StreamConfig) (InputStream, error) {
	if err := p.init(); err != nil {
		return nil, err
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, err
	}

	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = int(dev.DefaultSampleRate)
	}

	stream, buf, err := openAt(dev, rate, channels, cfg.FrameSize)
	if err != nil && rate != int(dev.DefaultSampleRate) {
		// Device refused the requested rate; capture at native rate instead.
		rate = int(dev.DefaultSampleRate)
		stream, buf, err = openAt(dev, rate, channels, cfg.FrameSize)
	}
	if err != nil {
		return nil, err
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	return &paStream{stream: stream, buf: buf, rate: rate}, nil
}

func openAt(dev *portaudio.DeviceInfo, rate, channels, frameSize int) (*portaudio.Stream, []float32, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frameSize,
	}
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}

// Close releases the portaudio library. Call once at process shutdown, after
// every stream is closed.
func (p *PortAudio) Close() error {
	p.initOnce.Do(func() {}) // mark consumed so a late init cannot race Close
	if !p.initialized {
		return nil
	}
	return portaudio.Terminate()
}

type paStream struct {
	stream    *portaudio.Stream
	buf       []float32
	rate      int
	closeOnce sync.Once
	closeErr  error
}

func (s *paStream) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	return s.buf, nil
}

func (s *paStream) SampleRate() int { return s.rate }

func (s *paStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.Stop()
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}
