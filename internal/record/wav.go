package record

import (
	"encoding/binary"

	"github.com/lingostream/capture/internal/audio"
)

// wavEncoder is the codec-agnostic fallback: 16-bit mono PCM in a RIFF
// container. Because chunks stream out before the total length is known, the
// RIFF and data sizes use the streaming convention of 0xFFFFFFFF.
type wavEncoder struct {
	rate    int
	out     []byte
	started bool
}

func newWavEncoder(o Opts) (Encoder, error) {
	return &wavEncoder{rate: o.SampleRate}, nil
}

func (e *wavEncoder) Encode(pcm []int16) error {
	if !e.started {
		e.started = true
		e.out = append(e.out, wavHeader(e.rate)...)
	}
	e.out = append(e.out, audio.PCM16ToBytes(pcm)...)
	return nil
}

func (e *wavEncoder) Flush() []byte {
	out := e.out
	e.out = nil
	return out
}

func (e *wavEncoder) Finish() ([]byte, error) {
	return e.Flush(), nil
}

func wavHeader(rate int) []byte {
	h := make([]byte, 0, 44)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, 0xFFFFFFFF) // unknown total size
	h = append(h, "WAVE"...)
	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1) // PCM
	h = binary.LittleEndian.AppendUint16(h, 1) // mono
	h = binary.LittleEndian.AppendUint32(h, uint32(rate))
	h = binary.LittleEndian.AppendUint32(h, uint32(rate*2)) // byte rate
	h = binary.LittleEndian.AppendUint16(h, 2)              // block align
	h = binary.LittleEndian.AppendUint16(h, 16)             // bits per sample
	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, 0xFFFFFFFF)
	return h
}
