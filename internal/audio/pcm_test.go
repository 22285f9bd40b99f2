package audio

import (
	"math"
	"testing"
)

func TestSampleToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		in       float32
		expected int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive", 0.5, 16384}, // round(16383.5)
		{"half negative", -0.5, -16384},
		{"quarter", 0.25, 8192},
		{"clamp above", 2.5, 32767},
		{"clamp below", -3, -32768},
		{"small positive", 1.0 / 32767, 1},
		{"small negative", -1.0 / 32768, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SampleToPCM16(tt.in); got != tt.expected {
				t.Errorf("SampleToPCM16(%v) = %d, want %d", tt.in, got, tt.expected)
			}
		})
	}
}

func TestSampleToPCM16Scaling(t *testing.T) {
	// The asymmetric scaling invariant: round(s*32767) for s >= 0 and
	// round(s*32768) for s < 0, after clamping.
	for i := -20; i <= 20; i++ {
		s := float32(i) / 10
		want := SampleToPCM16(s)
		c := float64(Clamp(s))
		var expected int16
		if c < 0 {
			expected = int16(math.Round(c * 32768))
		} else {
			expected = int16(math.Round(c * 32767))
		}
		if want != expected {
			t.Errorf("s=%v: got %d, want %d", s, want, expected)
		}
	}
}

func TestPCM16Bytes(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 256, -257}
	b := PCM16ToBytes(pcm)
	if len(b) != len(pcm)*2 {
		t.Fatalf("byte length = %d, want %d", len(b), len(pcm)*2)
	}
	// Little-endian check on a known value.
	if b[6] != 0xFF || b[7] != 0x7F {
		t.Errorf("32767 encoded as [%x %x], want [ff 7f]", b[6], b[7])
	}
	back := BytesToPCM16(b)
	for i := range pcm {
		if back[i] != pcm[i] {
			t.Errorf("sample %d: got %d, want %d", i, back[i], pcm[i])
		}
	}
}

func TestResamplerPassthrough(t *testing.T) {
	r := NewResampler(24000, 24000)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Process(in)
	if len(out) != len(in) {
		t.Fatalf("passthrough length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d changed: %v != %v", i, out[i], in[i])
		}
	}
}

func TestResamplerDownsampleLength(t *testing.T) {
	r := NewResampler(48000, 24000)
	total := 0
	for i := 0; i < 10; i++ {
		in := make([]float32, 480)
		total += len(r.Process(in))
	}
	// 4800 input samples at 2:1 should yield ~2400 output samples.
	if total < 2395 || total > 2405 {
		t.Errorf("downsampled %d samples, want ~2400", total)
	}
}

func TestResamplerUpsampleLength(t *testing.T) {
	r := NewResampler(16000, 24000)
	total := 0
	for i := 0; i < 10; i++ {
		in := make([]float32, 160)
		total += len(r.Process(in))
	}
	if total < 2395 || total > 2405 {
		t.Errorf("upsampled %d samples, want ~2400", total)
	}
}

func TestResamplerInterpolates(t *testing.T) {
	// A linear ramp resampled stays a linear ramp.
	r := NewResampler(48000, 24000)
	in := make([]float32, 100)
	for i := range in {
		in[i] = float32(i) / 100
	}
	out := r.Process(in)
	for i := 1; i < len(out); i++ {
		delta := out[i] - out[i-1]
		if delta < 0.019 || delta > 0.021 {
			t.Fatalf("output not linear at %d: delta %v", i, delta)
		}
	}
}

func TestResamplerReset(t *testing.T) {
	r := NewResampler(48000, 24000)
	r.Process([]float32{1, 1, 1, 1})
	r.Reset()
	out := r.Process([]float32{0, 0, 0, 0})
	for _, s := range out {
		if s != 0 {
			t.Errorf("state leaked across Reset: got %v", s)
		}
	}
}
