// Package record implements bounded-duration compressed recording: one clip
// per cycle, assembled from periodically flushed encoder chunks, guarded by
// anti-silence and max-duration cutoffs.
package record

import caperr "github.com/lingostream/capture/internal/errors"

// Encoder compresses PCM16 audio into the negotiated container format.
// Encode and Flush are called from different goroutines; the recorder
// serializes access.
type Encoder interface {
	// Encode appends samples to the encoder's pending input.
	Encode(pcm []int16) error
	// Flush drains the bytes encoded since the previous flush.
	Flush() []byte
	// Finish encodes any remaining input and returns trailing container
	// bytes. The encoder is unusable afterwards.
	Finish() ([]byte, error)
}

// Factory describes one entry of the encoding preference list.
type Factory struct {
	Mime      string
	Supported func(Opts) bool
	New       func(Opts) (Encoder, error)
}

// DefaultEncodings is the ordered preference list: Opus in an Ogg container
// (the streaming lossy default), Opus in WebM (no muxer here, always reported
// unsupported), then uncompressed WAV as the codec-agnostic fallback.
func DefaultEncodings() []Factory {
	return []Factory{
		{
			Mime:      "audio/ogg;codecs=opus",
			Supported: opusSupported,
			New:       newOggOpusEncoder,
		},
		{
			Mime:      "audio/webm;codecs=opus",
			Supported: func(Opts) bool { return false },
			New: func(Opts) (Encoder, error) {
				return nil, caperr.Newf(caperr.KindUnsupportedConstraints, "webm container not implemented")
			},
		},
		{
			Mime:      "audio/wav",
			Supported: func(Opts) bool { return true },
			New:       newWavEncoder,
		},
	}
}

// Negotiate picks the first entry that reports support. When nothing reports
// support the first entry is used regardless; negotiation never fails.
func Negotiate(list []Factory, o Opts) Factory {
	for _, f := range list {
		if f.Supported(o) {
			return f
		}
	}
	return list[0]
}
