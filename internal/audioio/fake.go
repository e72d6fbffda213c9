package audioio

import "context"

// FakeCapturer replays its whole fixed sequence of PCM buffers on each
// Start call, standing in for a microphone in tests that need to drive the capture
// goroutine without a real sound card.
type FakeCapturer struct {
	Buffers [][]float32
	started bool
	stopped bool
}

func (f *FakeCapturer) Start(ctx context.Context, out chan<- []float32) error {
	f.started = true
	go func() {
		for _, b := range f.Buffers {
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (f *FakeCapturer) Stop() error {
	f.stopped = true
	return nil
}

// FakePlayer records every buffer handed to Play instead of rendering
// audio. Like the real adapter, it ignores cancellation: a frame handed
// to Play always completes.
type FakePlayer struct {
	Played [][]float32
}

func (f *FakePlayer) Play(ctx context.Context, pcm []float32) error {
	cp := make([]float32, len(pcm))
	copy(cp, pcm)
	f.Played = append(f.Played, cp)
	return nil
}

func (f *FakePlayer) Stop() error {
	return nil
}
