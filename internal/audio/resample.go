package audio

// Resampler converts a sample stream between rates by linear interpolation.
// It is stateful: the last input sample and the fractional read position are
// carried across calls so chunk boundaries do not produce discontinuities.
type Resampler struct {
	from, to int
	step     float64
	pos      float64
	last     float32
	primed   bool
	scratch  []float32
}

// NewResampler creates a resampler from one rate to another. When the rates
// are equal Process passes input through untouched.
func NewResampler(from, to int) *Resampler {
	return &Resampler{
		from: from,
		to:   to,
		step: float64(from) / float64(to),
	}
}

// Passthrough reports whether no rate conversion is needed.
func (r *Resampler) Passthrough() bool { return r.from == r.to }

// Process resamples one chunk of input. The returned slice is owned by the
// caller; the input is not retained.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() || len(in) == 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	// Prepend the previous chunk's last sample so interpolation can cross
	// the chunk boundary.
	buf := r.scratch[:0]
	if r.primed {
		buf = append(buf, r.last)
	}
	buf = append(buf, in...)

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	pos := r.pos
	for int(pos)+1 < len(buf) {
		i := int(pos)
		frac := float32(pos - float64(i))
		out = append(out, buf[i]+(buf[i+1]-buf[i])*frac)
		pos += r.step
	}

	consumed := len(buf) - 1
	r.pos = pos - float64(consumed)
	r.last = buf[len(buf)-1]
	r.primed = true
	r.scratch = buf
	return out
}

// Reset clears interpolation state between capture cycles.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}
