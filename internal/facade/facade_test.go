package facade

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrasync-link/ultrasync/internal/audioio"
	"github.com/ultrasync-link/ultrasync/internal/errs"
	"github.com/ultrasync-link/ultrasync/internal/modem"
	"github.com/ultrasync-link/ultrasync/internal/session"
)

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestDevice(t *testing.T) (*Device, *audioio.FakePlayer) {
	t.Helper()
	player := &audioio.FakePlayer{}
	capturer := &audioio.FakeCapturer{}
	d := New(Options{
		SelfID:     "A",
		SelfName:   "Alice",
		Mode:       modem.ModeHigh,
		Volume:     80,
		SampleRate: modem.DefaultSampleRate,
		Capturer:   capturer,
		Player:     player,
		Logger:     discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.StartDiscovery(ctx))
	t.Cleanup(func() {
		cancel()
		d.StopDiscovery()
	})
	return d, player
}

func Test_StartDiscovery_SendsBootstrapAnnouncement(t *testing.T) {
	_, player := newTestDevice(t)

	// The one-shot discovery datagram goes out without any further calls.
	require.Eventually(t, func() bool {
		return len(player.Played) > 0
	}, time.Second, 10*time.Millisecond)
}

func Test_CreateOrJoinRoom_QueuesATransmission(t *testing.T) {
	d, player := newTestDevice(t)

	require.NoError(t, d.CreateOrJoinRoom("room1", "Room One", false))

	require.Eventually(t, func() bool {
		return len(player.Played) > 0
	}, time.Second, 10*time.Millisecond)
}

func Test_SendChat_WithoutARoomErrors(t *testing.T) {
	d, _ := newTestDevice(t)
	err := d.SendChat("m1", "hi")
	assert.Error(t, err)
}

func Test_SendChat_AfterJoiningRoomSucceeds(t *testing.T) {
	d, player := newTestDevice(t)
	require.NoError(t, d.CreateOrJoinRoom("room1", "Room One", false))

	before := len(player.Played)
	require.NoError(t, d.SendChat("m1", "hi"))

	require.Eventually(t, func() bool {
		return len(player.Played) > before
	}, time.Second, 10*time.Millisecond)

	hist := d.History()
	require.NotEmpty(t, hist)
	assert.Equal(t, "hi", hist[len(hist)-1].Content)
}

func Test_SendChat_FailsFastWhenBusy(t *testing.T) {
	d := New(Options{SelfID: "A", SelfName: "Alice", Logger: discardLogger()})
	require.NoError(t, d.CreateOrJoinRoom("room1", "Room One", false))

	d.mu.Lock()
	d.busy = true
	d.mu.Unlock()

	err := d.SendChat("m1", "hi")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Busy))
}

func Test_EnqueueTx_EvictsOldestNonChatFragmentBeforeChat(t *testing.T) {
	d := New(Options{SelfID: "A", SelfName: "Alice", Logger: discardLogger()})

	for i := 0; i < txQueueCapacity; i++ {
		d.enqueueTx([]byte{byte(i)}, false)
	}
	d.enqueueTx([]byte{0xaa}, true)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.txQueue, txQueueCapacity)
	last := d.txQueue[len(d.txQueue)-1]
	assert.True(t, last.isChat)
	assert.Equal(t, []byte{0xaa}, last.payload)
	for _, it := range d.txQueue[:len(d.txQueue)-1] {
		assert.False(t, it.isChat)
	}
}

func Test_Stats_CountSentAndReceivedFrames(t *testing.T) {
	d, player := newTestDevice(t)

	require.NoError(t, d.CreateOrJoinRoom("room1", "Room One", false))
	require.Eventually(t, func() bool {
		return len(player.Played) > 0
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return d.Stats().FramesSent > 0
	}, time.Second, 10*time.Millisecond)

	st := d.Stats()
	assert.Greater(t, st.BytesTransmitted, uint64(0))
	assert.Equal(t, uint64(0), st.FramesRejected)
}

func Test_StopDiscovery_InFlightFrameCompletes_NoSpuriousError(t *testing.T) {
	player := &slowPlayer{release: make(chan struct{})}
	d := New(Options{
		SelfID:   "A",
		SelfName: "Alice",
		Capturer: &audioio.FakeCapturer{},
		Player:   player,
		Logger:   discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.StartDiscovery(ctx))

	// Wait for the bootstrap announcement's first frame to be in flight.
	require.Eventually(t, func() bool {
		return d.isBusy()
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		d.StopDiscovery()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopDiscovery returned while a frame was still playing")
	case <-time.After(50 * time.Millisecond):
	}

	close(player.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopDiscovery did not return after the in-flight frame finished")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&player.completed), int32(1),
		"the frame on the speaker when stop arrived must play to completion")

	for {
		select {
		case ev := <-d.Events():
			assert.NotEqual(t, session.EventError, ev.Kind,
				"ordinary shutdown must not surface a device error")
		default:
			return
		}
	}
}

// slowPlayer blocks in Play until released, ignoring cancellation the way
// the real adapter does: a frame, once started, completes.
type slowPlayer struct {
	release   chan struct{}
	completed int32
}

func (p *slowPlayer) Play(ctx context.Context, pcm []float32) error {
	<-p.release
	atomic.AddInt32(&p.completed, 1)
	return nil
}

func (p *slowPlayer) Stop() error { return nil }

func Test_TwoDevices_ChatTransitsTheSimulatedAcousticChannel(t *testing.T) {
	samplesCh := make(chan []float32, 32)

	capA := &audioio.FakeCapturer{}
	playA := &relayPlayer{out: samplesCh}
	a := New(Options{SelfID: "A", SelfName: "Alice", SampleRate: modem.DefaultSampleRate, Capturer: capA, Player: playA, Logger: discardLogger()})

	capB := &chanCapturer{in: samplesCh}
	playB := &audioio.FakePlayer{}
	b := New(Options{SelfID: "B", SelfName: "Bob", SampleRate: modem.DefaultSampleRate, Capturer: capB, Player: playB, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.StartDiscovery(ctx))
	require.NoError(t, b.StartDiscovery(ctx))
	defer a.StopDiscovery()
	defer b.StopDiscovery()

	require.NoError(t, a.CreateOrJoinRoom("room9", "Room Nine", false))
	require.NoError(t, b.CreateOrJoinRoom("room9", "Room Nine", false))

	require.NoError(t, a.SendChat("m1", "hello over sound"))

	require.Eventually(t, func() bool {
		select {
		case ev := <-b.Events():
			return ev.Kind == session.EventMessageReceived && ev.Message.Content == "hello over sound"
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

// relayPlayer renders each played buffer back out as "captured" samples on
// a shared channel, standing in for two devices sharing one acoustic
// channel without an actual speaker/microphone round trip.
type relayPlayer struct {
	out chan []float32
}

func (p *relayPlayer) Play(ctx context.Context, pcm []float32) error {
	select {
	case p.out <- pcm:
	case <-ctx.Done():
	}
	return nil
}

func (p *relayPlayer) Stop() error { return nil }

type chanCapturer struct {
	in <-chan []float32
}

func (c *chanCapturer) Start(ctx context.Context, out chan<- []float32) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-c.in:
				if !ok {
					return
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (c *chanCapturer) Stop() error { return nil }
