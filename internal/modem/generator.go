package modem

import "math"

// Generator renders a bit vector into a mono PCM buffer using 2-FSK at a
// given profile and sample rate. A Generator holds no transmit-lock state
// of its own — that belongs to the façade's transmit loop and the audio
// sink it drives; Generator.Render is a pure function of its arguments.
type Generator struct {
	SampleRate int
}

// NewGenerator returns a Generator for the given sample rate. A sample
// rate of 0 falls back to DefaultSampleRate.
func NewGenerator(sampleRate int) *Generator {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Generator{SampleRate: sampleRate}
}

// Render produces ceil(len(bits) * sampleRate / profile.BitRate) samples at
// amplitude v (clamped to [0,1]). Phase is computed from the absolute
// sample index across the whole buffer — never reset at a bit boundary —
// so adjacent bits of the same value don't produce an audible
// phase-discontinuity click, per the modem contract.
func (g *Generator) Render(bits []int, p Profile, v float64) []float32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	samplesPerBit := float64(g.SampleRate) / p.BitRate
	total := int(math.Ceil(float64(len(bits)) * samplesPerBit))
	out := make([]float32, total)

	sampleRate := float64(g.SampleRate)
	bitLenAcc := 0.0
	sampleIdx := 0

	for _, bit := range bits {
		bitLenAcc += samplesPerBit
		samplesThisBit := int(math.Round(bitLenAcc))
		bitLenAcc -= float64(samplesThisBit)

		f := p.F0
		if bit != 0 {
			f = p.F1
		}

		for j := 0; j < samplesThisBit && sampleIdx < total; j++ {
			t := float64(sampleIdx) / sampleRate
			out[sampleIdx] = float32(v * math.Sin(2*math.Pi*f*t))
			sampleIdx++
		}
	}

	// Fractional rounding across the bit loop can leave the buffer a sample
	// or two short of `total`; pad with silence rather than extending the
	// last tone, since the receiver only needs len(bits) full bit periods.
	for ; sampleIdx < total; sampleIdx++ {
		out[sampleIdx] = 0
	}

	return out
}
