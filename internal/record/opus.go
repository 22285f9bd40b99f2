package record

import (
	"math/rand/v2"

	"layeh.com/gopus"

	caperr "github.com/lingostream/capture/internal/errors"
)

// Opus frames are 20 ms; granule positions count 48 kHz samples regardless of
// the encoder's input rate.
const opusFrameMs = 20

var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

func opusSupported(o Opts) bool {
	return opusRates[o.SampleRate]
}

// oggOpusEncoder encodes mono PCM16 into an Ogg Opus stream. Flush returns
// whole pages, so every chunk boundary is also a container boundary and the
// assembled clip is a valid file.
type oggOpusEncoder struct {
	enc       *gopus.Encoder
	ogg       oggWriter
	rate      int
	frameSize int // samples per 20 ms frame at the input rate
	granStep  uint64
	granule   uint64
	pending   []int16
	packets   [][]byte
	out       []byte
	started   bool
	finished  bool
}

func newOggOpusEncoder(o Opts) (Encoder, error) {
	enc, err := gopus.NewEncoder(o.SampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, caperr.Classify(err)
	}
	if o.Bitrate > 0 {
		enc.SetBitrate(o.Bitrate)
	}
	return &oggOpusEncoder{
		enc:       enc,
		rate:      o.SampleRate,
		ogg:       oggWriter{serial: rand.Uint32()},
		frameSize: o.SampleRate * opusFrameMs / 1000,
		granStep:  uint64(48000 * opusFrameMs / 1000),
	}, nil
}

func (e *oggOpusEncoder) Encode(pcm []int16) error {
	e.pending = append(e.pending, pcm...)
	for len(e.pending) >= e.frameSize {
		frame := e.pending[:e.frameSize]
		e.pending = append(e.pending[:0:0], e.pending[e.frameSize:]...)
		pkt, err := e.enc.Encode(frame, e.frameSize, e.frameSize*2)
		if err != nil {
			return caperr.Classify(err)
		}
		e.packets = append(e.packets, pkt)
	}
	return nil
}

func (e *oggOpusEncoder) Flush() []byte {
	e.writeHeadersOnce()
	if len(e.packets) > 0 {
		e.granule += e.granStep * uint64(len(e.packets))
		e.out = append(e.out, e.ogg.page(e.packets, e.granule, 0)...)
		e.packets = nil
	}
	out := e.out
	e.out = nil
	return out
}

func (e *oggOpusEncoder) Finish() ([]byte, error) {
	if e.finished {
		return nil, nil
	}
	e.finished = true
	e.writeHeadersOnce()

	// Zero-pad the trailing partial frame so no captured audio is lost.
	if len(e.pending) > 0 {
		pad := make([]int16, e.frameSize-len(e.pending))
		frame := append(e.pending, pad...)
		e.pending = nil
		pkt, err := e.enc.Encode(frame, e.frameSize, e.frameSize*2)
		if err != nil {
			return nil, caperr.Classify(err)
		}
		e.packets = append(e.packets, pkt)
	}

	e.granule += e.granStep * uint64(len(e.packets))
	e.out = append(e.out, e.ogg.page(e.packets, e.granule, oggFlagEOS)...)
	e.packets = nil

	out := e.out
	e.out = nil
	return out, nil
}

func (e *oggOpusEncoder) writeHeadersOnce() {
	if e.started {
		return
	}
	e.started = true
	e.out = append(e.out, e.ogg.page([][]byte{opusHead(e.rate)}, 0, oggFlagBOS)...)
	e.out = append(e.out, e.ogg.page([][]byte{opusTags()}, 0, 0)...)
}
