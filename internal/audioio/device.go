// Package audioio supplies the concrete default binding for the "host
// capture/playback" boundary the core DSP treats as a platform capability.
// The core never imports this package directly — only the façade's wiring
// and the cmd/ demo harnesses do — so the DSP stays testable against
// synthetic PCM without a real sound card.
package audioio

import "context"

// Capturer streams mono float32 PCM frames in [-1, 1] from a microphone.
type Capturer interface {
	// Start begins delivering frames to out until ctx is cancelled or Stop
	// is called. It must release the underlying device before returning.
	Start(ctx context.Context, out chan<- []float32) error
	Stop() error
}

// Player renders one PCM buffer to completion on a speaker. Per the
// modem's "one in-flight only" contract, callers must not call Play again
// before a prior call returns.
type Player interface {
	Play(ctx context.Context, pcm []float32) error
	Stop() error
}

// DeviceConfig selects which physical device and sample rate to use.
// DeviceIndex of -1 means "use the platform default".
type DeviceConfig struct {
	DeviceIndex int
	SampleRate  int
	FrameSize   int // samples per capture callback
}

// DefaultDeviceConfig is a nominal 48kHz, -1 for "ask the platform".
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{DeviceIndex: -1, SampleRate: 48000, FrameSize: 1024}
}
