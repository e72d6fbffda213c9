package modem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// synthesizeTone renders `seconds` worth of a single pure tone at full
// scale, the fixture used by the bit-decision-stability property below.
func synthesizeTone(freq float64, sampleRate int, seconds float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(math.Sin(2 * math.Pi * freq * t))
	}
	return out
}

func Test_Detector_PureF0EmitsOnlyZeroBits(t *testing.T) {
	p := ProfileFor(ModeHigh)
	out := make(chan Bit, 256)
	d := NewDetector(p, 48000, DefaultThreshold, out)

	samples := synthesizeTone(p.F0, 48000, 1.0)
	d.Feed(samples)

	var got []int
collect:
	for {
		select {
		case b := <-out:
			got = append(got, b.Value)
		default:
			break collect
		}
	}

	assert.NotEmpty(t, got)
	for _, v := range got {
		assert.Equal(t, 0, v)
	}
}

func Test_Detector_PureF1EmitsOnlyOneBits(t *testing.T) {
	p := ProfileFor(ModeHigh)
	out := make(chan Bit, 256)
	d := NewDetector(p, 48000, DefaultThreshold, out)

	samples := synthesizeTone(p.F1, 48000, 1.0)
	d.Feed(samples)

	var got []int
collect:
	for {
		select {
		case b := <-out:
			got = append(got, b.Value)
		default:
			break collect
		}
	}

	assert.NotEmpty(t, got)
	for _, v := range got {
		assert.Equal(t, 1, v)
	}
}

func Test_Detector_SilenceEmitsNothing(t *testing.T) {
	p := ProfileFor(ModeHigh)
	out := make(chan Bit, 256)
	d := NewDetector(p, 48000, DefaultThreshold, out)

	silence := make([]float32, 48000)
	d.Feed(silence)

	select {
	case b := <-out:
		t.Fatalf("expected no bit events from silence, got %+v", b)
	default:
	}
}

func Test_Detector_DuplicateSuppression(t *testing.T) {
	p := ProfileFor(ModeHigh)
	out := make(chan Bit, 256)
	d := NewDetector(p, 48000, DefaultThreshold, out)

	// Two evaluations of the same window at the same effective sample
	// offset (as would happen if the detector were driven by an
	// overlapping/sliding window shorter than one bit) should collapse to
	// a single emitted bit.
	d.window = synthesizeTone(p.F0, 48000, float64(d.windowSize)/48000)
	d.evaluate()
	d.evaluate()

	count := 0
collect:
	for {
		select {
		case <-out:
			count++
		default:
			break collect
		}
	}
	assert.Equal(t, 1, count, "re-evaluating the same window offset should be suppressed as a duplicate")
}

