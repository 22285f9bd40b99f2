// Package audio provides PCM conversion and resampling primitives shared by
// the streaming and recording capture paths.
package audio

import "math"

// Clamp limits a normalized sample to [-1, 1].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// SampleToPCM16 converts one normalized float sample to 16-bit signed PCM.
// Negative samples scale by 32768 and non-negative by 32767 so the full
// two's-complement range -32768..32767 is reachable without overflow.
func SampleToPCM16(s float32) int16 {
	s = Clamp(s)
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

// ToPCM16 converts a buffer of normalized samples to 16-bit signed PCM.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = SampleToPCM16(s)
	}
	return out
}

// PCM16ToBytes converts PCM samples to little-endian bytes, the wire format
// of the streaming path.
func PCM16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToPCM16 converts little-endian bytes back to PCM samples.
func BytesToPCM16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
