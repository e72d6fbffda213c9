package audioio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FakeCapturer_DeliversAllBuffers(t *testing.T) {
	f := &FakeCapturer{Buffers: [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5}}}
	out := make(chan []float32, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Start(ctx, out))

	var got [][]float32
	for i := 0; i < len(f.Buffers); i++ {
		select {
		case b := <-out:
			got = append(got, b)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for buffer")
		}
	}

	assert.Equal(t, f.Buffers, got)
}

func Test_FakePlayer_RecordsPlayedBuffers(t *testing.T) {
	p := &FakePlayer{}
	pcm := []float32{0.5, -0.5, 0.25}

	require.NoError(t, p.Play(context.Background(), pcm))
	require.Len(t, p.Played, 1)
	assert.Equal(t, pcm, p.Played[0])

	pcm[0] = 99 // mutate original, recorded copy must be unaffected
	assert.NotEqual(t, pcm[0], p.Played[0][0])
}

func Test_DefaultDeviceConfig_Values(t *testing.T) {
	cfg := DefaultDeviceConfig()
	assert.Equal(t, -1, cfg.DeviceIndex)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 1024, cfg.FrameSize)
}
