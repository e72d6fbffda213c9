package audioio

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ultrasync-link/ultrasync/internal/errs"
)

// PortAudioCapturer is the default Capturer, backed by PortAudio. Echo
// cancellation/noise suppression/AGC are platform-level settings outside
// PortAudio's surface; this adapter neither enables nor disables them,
// and where active they distort the 17-20kHz band the modem lives in.
type PortAudioCapturer struct {
	cfg    DeviceConfig
	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewPortAudioCapturer(cfg DeviceConfig) *PortAudioCapturer {
	return &PortAudioCapturer{cfg: cfg}
}

func (c *PortAudioCapturer) Start(ctx context.Context, out chan<- []float32) error {
	if err := portaudio.Initialize(); err != nil {
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Capturer.Start", err)
	}

	buf := make([]float32, c.cfg.FrameSize)

	var stream *portaudio.Stream
	var err error
	if c.cfg.DeviceIndex < 0 {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(c.cfg.SampleRate), len(buf), buf)
	} else {
		devs, devErr := portaudio.Devices()
		if devErr != nil || c.cfg.DeviceIndex >= len(devs) {
			_ = portaudio.Terminate()
			return errs.Wrap(errs.DeviceUnavailable, "audioio.Capturer.Start", devErr)
		}
		params := portaudio.HighLatencyParameters(devs[c.cfg.DeviceIndex], nil)
		params.SampleRate = float64(c.cfg.SampleRate)
		params.FramesPerBuffer = len(buf)
		stream, err = portaudio.OpenStream(params, buf)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Capturer.Start", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Capturer.Start", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	go func() {
		defer c.teardown()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := stream.Read(); err != nil {
				return
			}
			frame := make([]float32, len(buf))
			copy(frame, buf)
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (c *PortAudioCapturer) Stop() error {
	return c.teardown()
}

func (c *PortAudioCapturer) teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	_ = portaudio.Terminate()
	return err
}

// PortAudioPlayer is the default Player, backed by PortAudio. Play blocks
// until the whole buffer has been written, matching the modem's "play
// once to completion" contract — cancellation stops the transmit queue
// upstream from feeding new frames, it never interrupts the frame
// already on the speaker.
type PortAudioPlayer struct {
	cfg DeviceConfig
	mu  sync.Mutex
}

func NewPortAudioPlayer(cfg DeviceConfig) *PortAudioPlayer {
	return &PortAudioPlayer{cfg: cfg}
}

func (p *PortAudioPlayer) Play(ctx context.Context, pcm []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Player.Play", err)
	}
	defer portaudio.Terminate()

	framesPerBuffer := p.cfg.FrameSize
	buf := make([]float32, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Player.Play", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return errs.Wrap(errs.DeviceUnavailable, "audioio.Player.Play", err)
	}
	defer stream.Stop()

	for off := 0; off < len(pcm); off += len(buf) {
		n := copy(buf, pcm[off:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return errs.Wrap(errs.DeviceUnavailable, "audioio.Player.Play", err)
		}
	}

	return nil
}

func (p *PortAudioPlayer) Stop() error {
	return nil
}
