// Package modem implements the 2-FSK tone generator and tone detector that
// form the acoustic link layer: bits in, PCM out on transmit; PCM in, bits
// out on receive.
package modem

import "time"

// Mode selects one of the two named modem profiles.
type Mode string

const (
	ModeHigh Mode = "high"
	ModeLow  Mode = "low"
)

// Profile is a fixed record describing one 2-FSK configuration: the two
// carrier frequencies and the symbol rate.
type Profile struct {
	F0      float64 // Hz, transmitted for bit 0
	F1      float64 // Hz, transmitted for bit 1
	BitRate float64 // bits per second
}

var profiles = map[Mode]Profile{
	ModeHigh: {F0: 18700, F1: 19300, BitRate: 40},
	ModeLow:  {F0: 17500, F1: 18100, BitRate: 10},
}

// ProfileFor returns the named profile. Unknown modes fall back to ModeHigh,
// treating an unrecognised config value as the primary/default rather
// than failing hard.
func ProfileFor(m Mode) Profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[ModeHigh]
}

// DupSuppressWindow is the minimum spacing between two bit events before
// the second is treated as a genuine new symbol rather than a re-read of
// the same tone.
func (p Profile) DupSuppressWindow() time.Duration {
	return time.Duration(0.8 / p.BitRate * float64(time.Second))
}

const DefaultSampleRate = 48000

// FFTFallbackWindow is the spectrum size for the fallback detection path
// that reads bins off a plain FFT magnitude spectrum when no per-sample
// DSP callback is available. The Goertzel path does not use it — its
// decision window is one bit period, derived from the active profile.
const FFTFallbackWindow = 4096
