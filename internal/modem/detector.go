package modem

import (
	"math"
	"time"
)

// Bit is one decoded symbol handed off from the Tone Detector to the Frame
// Codec, along with the Goertzel magnitude that produced it and the time
// it was decided.
type Bit struct {
	Value    int // 0 or 1
	Strength float64
	T        time.Time
}

// Detector consumes fixed-size PCM frames and emits Bit events by Goertzel
// energy estimation at the active profile's two target frequencies. It is
// not safe for concurrent use from more than one goroutine — the capture
// task is expected to be its sole owner, per the concurrency model.
type Detector struct {
	profile    Profile
	sampleRate int
	threshold  float64 // linear amplitude, Goertzel path

	window     []float32
	windowSize int   // samples per decision: one bit period
	sampleIdx  int64 // total samples fed since NewDetector, for timestamping
	start      time.Time
	lastEmit   time.Time
	haveEmit   bool
	dupWindow  time.Duration

	out chan Bit
}

// DefaultThreshold is the Goertzel path's linear magnitude threshold;
// 0.01 is -40dB as an amplitude ratio. The Goertzel (linear) and FFT
// fallback (dB) detection paths use independently tuned thresholds.
const DefaultThreshold = 0.01

// NewDetector constructs a Detector for the given profile and sample rate.
// out is the channel bits are published on; the caller owns its lifetime
// and should size it generously (the default modem tops out at tens of
// bits per second, so back-pressure is not a practical concern).
func NewDetector(p Profile, sampleRate int, threshold float64, out chan Bit) *Detector {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	// The decision window is one bit period. A longer window (the FFT
	// fallback's fixed 4096 samples) straddles several bits at the high
	// profile's 40 bit/s and cannot resolve them individually.
	windowSize := int(math.Round(float64(sampleRate) / p.BitRate))
	return &Detector{
		profile:    p,
		sampleRate: sampleRate,
		threshold:  threshold,
		window:     make([]float32, 0, windowSize),
		windowSize: windowSize,
		start:      time.Now(),
		dupWindow:  p.DupSuppressWindow(),
		out:        out,
	}
}

// Feed appends a frame of microphone samples and evaluates the Goertzel
// window every time it fills. It never blocks on the output channel: a Bit
// that finds out full is dropped, so callers should give out enough slack
// that this never happens in the capture path.
func (d *Detector) Feed(samples []float32) {
	for _, s := range samples {
		d.window = append(d.window, s)
		d.sampleIdx++

		if len(d.window) == d.windowSize {
			d.evaluate()
			d.window = d.window[:0]
		}
	}
}

func (d *Detector) evaluate() {
	e0 := goertzelEnergy(d.window, d.profile.F0, d.sampleRate)
	e1 := goertzelEnergy(d.window, d.profile.F1, d.sampleRate)

	strength := math.Max(e0, e1)
	if strength <= d.threshold {
		return // below noise floor
	}
	if e0 == e1 {
		return // ambiguous — suppress as noise
	}

	value := 0
	if e1 > e0 {
		value = 1
	}

	t := d.start.Add(time.Duration(float64(d.sampleIdx) / float64(d.sampleRate) * float64(time.Second)))

	if d.haveEmit && t.Sub(d.lastEmit) < d.dupWindow {
		return // duplicate re-read of the same tone within one bit period
	}

	d.lastEmit = t
	d.haveEmit = true

	select {
	case d.out <- Bit{Value: value, Strength: strength, T: t}:
	default:
		// Channel is full; a lossy receive channel is acceptable here —
		// this bit is lost and is not re-sent.
	}
}

// goertzelEnergy implements the recursive single-bin DFT: two real
// accumulators driven by a fixed coefficient derived from the target
// frequency, sample rate, and window size.
func goertzelEnergy(window []float32, freq float64, sampleRate int) float64 {
	n := len(window)
	if n == 0 {
		return 0
	}

	k := math.Round(float64(n) * freq / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(n)
	coeff := 2 * math.Cos(omega)

	var s1, s2 float64
	for _, x := range window {
		y := float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = y
	}

	return math.Sqrt(s1*s1+s2*s2-coeff*s1*s2) / float64(n)
}
