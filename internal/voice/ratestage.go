package voice

// The rate stage resamples a PCM buffer by an arbitrary ratio using a
// fixed-point phase accumulator, the technique of an oscillator's
// phase register with a 32-bit fraction, applied to samples drawn from a
// decoded PCM buffer instead of a synthesized waveform table.
// Linear interpolation between adjacent frames smooths the fractional
// position the accumulator lands on.

const phaseMax = uint64(1) << 32

// RateStage tracks one voice's fixed-point read position into its PCM
// buffer. It performs no allocation after construction.
type RateStage struct {
	channels  int
	phaseFrac uint64 // fixed-point frame position: integer part in bits 32+, fraction in bits 0-31
}

// NewRateStage constructs a stage for a buffer with the given channel count.
func NewRateStage(channels int) *RateStage {
	return &RateStage{channels: channels}
}

// SeedFrame sets the stage's read position to an exact (fractional) input
// frame, used when a voice is scheduled mid-loop against the running mix
// or after a tempo change recomputes alignment.
func (s *RateStage) SeedFrame(frame float64) {
	if frame < 0 {
		frame = 0
	}
	whole := uint64(frame)
	frac := frame - float64(whole)
	s.phaseFrac = (whole << 32) | uint64(frac*float64(phaseMax))
}

// CurrentFrame returns the stage's read position as a float64 frame index
// (unwrapped; callers wrap against buffer_frames themselves).
func (s *RateStage) CurrentFrame() float64 {
	whole := s.phaseFrac >> 32
	frac := float64(s.phaseFrac&0xFFFFFFFF) / float64(phaseMax)
	return float64(whole) + frac
}

// Render reads frameCount output frames at the given input rate ratio
// (effective_input_rate, i.e. native_sample_rate*rate/device_sample_rate)
// from src (interleaved, srcFrames frames, s.channels channels),
// writing into dst (interleaved, frameCount frames, s.channels channels).
// dst must already be sized; Render performs no allocation.
func (s *RateStage) Render(src []float32, srcFrames int, rate float64, dst []float32, frameCount int) {
	increment := uint64(rate * float64(phaseMax))
	ch := s.channels

	for i := 0; i < frameCount; i++ {
		whole := int(s.phaseFrac >> 32)
		frac := float32(s.phaseFrac&0xFFFFFFFF) / float32(phaseMax)

		i0 := whole % srcFrames
		if i0 < 0 {
			i0 += srcFrames
		}
		i1 := (i0 + 1) % srcFrames

		for c := 0; c < ch; c++ {
			a := src[i0*ch+c]
			b := src[i1*ch+c]
			dst[i*ch+c] = a + frac*(b-a)
		}

		s.phaseFrac += increment
	}
}
