// Package facade is the single integration point for an ultrasync device.
// It owns the capture/decode/transmit goroutines, the timers that drive
// heartbeats, peer expiry and room announcements, and the transmit lock
// that turns the half-duplex acoustic channel into a queueable API. Every
// cmd/ binary talks to the system exclusively through a *Device.
package facade

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ultrasync-link/ultrasync/internal/audioio"
	"github.com/ultrasync-link/ultrasync/internal/errs"
	"github.com/ultrasync-link/ultrasync/internal/frame"
	"github.com/ultrasync-link/ultrasync/internal/modem"
	"github.com/ultrasync-link/ultrasync/internal/peer"
	"github.com/ultrasync-link/ultrasync/internal/session"
)

const (
	heartbeatPeriod = 3 * time.Second
	peerSweepPeriod = 5 * time.Second
	peerExpiry      = 10 * time.Second
	txQueueCapacity = 8
)

// Device wires the modem, frame codec, peer table and session manager to
// a Capturer/Player pair and drives them with background goroutines.
type Device struct {
	mu sync.Mutex

	cfgMode   modem.Mode
	volume    float64
	sampleRt  int
	threshold float64

	gen *modem.Generator

	cap audioio.Capturer
	ply audioio.Player
	ind *audioio.Indicator

	peers *peer.Table
	mgr   *session.Manager
	log   *log.Logger

	reassembler *session.Reassembler

	txQueue []txItem // encoded fragments awaiting transmission, oldest first
	txWake  chan struct{}
	busy    bool
	running bool

	framesSent       uint64
	framesReceived   uint64
	framesRejected   uint64
	bytesTransmitted uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// txItem is one outbound frame payload awaiting transmission, tagged so
// the queue can evict non-chat traffic ahead of chat when it fills.
type txItem struct {
	payload []byte
	isChat  bool
}

// Stats is a read-only snapshot of the device's cumulative traffic
// counters, for UI/debug consumption.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	FramesRejected   uint64
	BytesTransmitted uint64
	PeersKnown       int
}

// Stats returns a snapshot of the device's traffic counters.
func (d *Device) Stats() Stats {
	return Stats{
		FramesSent:       atomic.LoadUint64(&d.framesSent),
		FramesReceived:   atomic.LoadUint64(&d.framesReceived),
		FramesRejected:   atomic.LoadUint64(&d.framesRejected),
		BytesTransmitted: atomic.LoadUint64(&d.bytesTransmitted),
		PeersKnown:       len(d.peers.Snapshot()),
	}
}

// Options configures a new Device.
type Options struct {
	SelfID, SelfName string
	Mode             modem.Mode
	Volume           int // 1..100, mapped linearly to amplitude; 0 or less selects 80
	SampleRate       int
	GoertzelThresh   float64
	Capturer         audioio.Capturer
	Player           audioio.Player
	Indicator        *audioio.Indicator
	Logger           *log.Logger
}

func New(opts Options) *Device {
	if opts.SampleRate <= 0 {
		opts.SampleRate = modem.DefaultSampleRate
	}
	if opts.GoertzelThresh <= 0 {
		opts.GoertzelThresh = modem.DefaultThreshold
	}
	if opts.Volume <= 0 {
		opts.Volume = 80
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	peers := peer.New(opts.SelfID, peerExpiry)
	mgr := session.NewManager(opts.SelfID, opts.SelfName, peers, opts.Logger)

	d := &Device{
		cfgMode:     opts.Mode,
		volume:      pctToAmplitude(opts.Volume),
		sampleRt:    opts.SampleRate,
		threshold:   opts.GoertzelThresh,
		gen:         modem.NewGenerator(opts.SampleRate),
		cap:         opts.Capturer,
		ply:         opts.Player,
		ind:         opts.Indicator,
		peers:       peers,
		mgr:         mgr,
		log:         opts.Logger,
		reassembler: session.NewReassembler(),
		txWake:      make(chan struct{}, 1),
	}
	return d
}

// Events exposes the session manager's event stream for UIs to consume.
func (d *Device) Events() <-chan session.Event { return d.mgr.Events }

// Peers returns a snapshot of currently-known peers.
func (d *Device) Peers() []peer.Peer { return d.peers.Snapshot() }

// ConnectedUsers returns the session layer's longer-lived view of peers,
// including entries recently marked offline.
func (d *Device) ConnectedUsers() []session.ConnectedUser { return d.mgr.ConnectedUsers() }

func (d *Device) currentMode() modem.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfgMode
}

// SetMode switches the active tone profile. Takes effect on the next
// transmission and the next decode window.
func (d *Device) SetMode(m modem.Mode) {
	d.mu.Lock()
	d.cfgMode = m
	d.mu.Unlock()
}

// SetVolume stores the transmit gain as a 0-100 percentage, mapped
// linearly to amplitude.
func (d *Device) SetVolume(pct int) {
	d.mu.Lock()
	d.volume = pctToAmplitude(pct)
	d.mu.Unlock()
}

func pctToAmplitude(pct int) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return float64(pct) / 100
}

// StartDiscovery launches capture, decode, transmit and timer goroutines.
// It returns once the capturer has been started; all other work happens
// in the background until ctx is cancelled or StopDiscovery is called.
func (d *Device) StartDiscovery(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errs.New(errs.Busy, "facade.StartDiscovery")
	}
	d.running = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	samples := make(chan []float32, 4)
	if err := d.cap.Start(ctx, samples); err != nil {
		cancel()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	// Sized to hold several whole frames' worth of bits so a long rendered
	// buffer arriving in one capture burst never forces the detector to
	// drop while the decoder catches up.
	bits := make(chan modem.Bit, 1024)
	det := modem.NewDetector(modem.ProfileFor(d.currentMode()), d.sampleRt, d.threshold, bits)

	d.wg.Add(4)
	go d.runCapture(ctx, samples, det)
	go d.runDecode(ctx, bits)
	go d.runTransmit(ctx)
	go d.runTimers(ctx)

	// One-shot bootstrap announcement so nearby devices hear about us
	// immediately instead of waiting out the first heartbeat period.
	d.sendDatagram(d.mgr.Discovery(time.Now()), false)

	return nil
}

// StopDiscovery tears down all background goroutines, releases the audio
// device, and drops any queued transmissions without playing them. An
// in-flight frame completes first. Safe to call when not running, and the
// device can be started again afterwards.
func (d *Device) StopDiscovery() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	_ = d.cap.Stop()
	d.wg.Wait()

	d.mu.Lock()
	d.txQueue = nil
	d.mu.Unlock()
}

func (d *Device) runCapture(ctx context.Context, samples <-chan []float32, det *modem.Detector) {
	defer d.wg.Done()
	defer d.ind.SetReceiving(false)
	receiving := false
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if !receiving {
				d.ind.SetReceiving(true)
				receiving = true
			}
			det.Feed(s)
		}
	}
}

func (d *Device) runDecode(ctx context.Context, bits <-chan modem.Bit) {
	defer d.wg.Done()
	dec := frame.NewDecoder()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-bits:
			if !ok {
				return
			}
			frames := dec.Feed([]int{b.Value})
			for _, payload := range frames {
				atomic.AddUint64(&d.framesReceived, 1)
				d.handleFrame(payload)
			}
		}
	}
}

func (d *Device) handleFrame(payload []byte) {
	full := d.reassembler.Feed(time.Now(), payload)
	if full == nil {
		return
	}
	dg, err := session.Unmarshal(full)
	if err != nil {
		atomic.AddUint64(&d.framesRejected, 1)
		d.log.Debug("dropping malformed datagram", "err", err)
		return
	}
	d.mgr.Dispatch(time.Now(), dg)
}

func (d *Device) runTransmit(ctx context.Context) {
	defer d.wg.Done()
	for {
		// Once cancelled, stop pulling from the queue: whatever is left is
		// dropped by StopDiscovery rather than played.
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, ok := d.popTx()
		if ok {
			d.transmitOne(ctx, item.payload)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.txWake:
		}
	}
}

// popTx removes and returns the oldest queued fragment, if any.
func (d *Device) popTx() (txItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.txQueue) == 0 {
		return txItem{}, false
	}
	item := d.txQueue[0]
	d.txQueue = d.txQueue[1:]
	return item, true
}

func (d *Device) transmitOne(ctx context.Context, payload []byte) {
	bits, err := frame.Encode(payload)
	if err != nil {
		d.log.Warn("dropping oversize transmit payload", "err", err)
		return
	}

	d.mu.Lock()
	mode, vol := d.cfgMode, d.volume
	d.mu.Unlock()

	pcm := d.gen.Render(bits, modem.ProfileFor(mode), vol)

	d.mu.Lock()
	d.busy = true
	d.mu.Unlock()
	d.ind.SetTransmitting(true)

	if err := d.ply.Play(ctx, pcm); err != nil {
		d.log.Warn("playback failed", "err", err)
		d.mgr.ReportError(errs.Wrap(errs.DeviceUnavailable, "facade.transmit", err))
	} else {
		atomic.AddUint64(&d.framesSent, 1)
		atomic.AddUint64(&d.bytesTransmitted, uint64(len(payload)))
	}

	d.ind.SetTransmitting(false)
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

func (d *Device) runTimers(ctx context.Context) {
	defer d.wg.Done()
	hbTicker := time.NewTicker(heartbeatPeriod)
	sweepTicker := time.NewTicker(peerSweepPeriod)
	roomTicker := time.NewTicker(session.RoomUpdatePeriod)
	defer hbTicker.Stop()
	defer sweepTicker.Stop()
	defer roomTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hbTicker.C:
			d.sendDatagram(d.mgr.Heartbeat(time.Now()), false)
		case <-sweepTicker.C:
			d.peers.Sweep()
			d.mgr.SweepConnected(time.Now())
		case <-roomTicker.C:
			if dg, ok := d.mgr.RoomUpdate(time.Now()); ok {
				d.sendDatagram(dg, false)
			}
		}
	}
}

// sendDatagram marshals, fragments and enqueues dg. isChat marks the
// fragments as chat traffic, which the queue protects from eviction when
// it's full and a lower-priority (heartbeat/room-update) fragment can be
// dropped instead.
func (d *Device) sendDatagram(dg session.Datagram, isChat bool) {
	payload, err := session.Marshal(dg)
	if err != nil {
		d.log.Warn("failed to marshal outgoing datagram", "err", err)
		return
	}
	chunks, err := session.Fragment(d.mgr.NextFragmentID(), payload)
	if err != nil {
		d.log.Warn("failed to fragment outgoing datagram", "err", err)
		return
	}
	for _, c := range chunks {
		d.enqueueTx(c, isChat)
	}
}

// enqueueTx appends a fragment to the transmit queue, evicting the oldest
// non-chat fragment to make room when full, or the oldest fragment of any
// kind if the whole queue is chat traffic.
func (d *Device) enqueueTx(payload []byte, isChat bool) {
	d.mu.Lock()
	if len(d.txQueue) >= txQueueCapacity && !d.evictOldestLocked() {
		d.mu.Unlock()
		d.log.Warn("transmit queue full, dropping fragment")
		return
	}
	d.txQueue = append(d.txQueue, txItem{payload: payload, isChat: isChat})
	d.mu.Unlock()

	select {
	case d.txWake <- struct{}{}:
	default:
	}
}

func (d *Device) evictOldestLocked() bool {
	for i, it := range d.txQueue {
		if !it.isChat {
			d.txQueue = append(d.txQueue[:i], d.txQueue[i+1:]...)
			return true
		}
	}
	if len(d.txQueue) == 0 {
		return false
	}
	d.txQueue = d.txQueue[1:]
	return true
}

func (d *Device) isBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// SendChat builds and sends a chat message in the current room. It is a
// foreground call: unlike the background control traffic driven by
// runTimers, it fails fast with errs.Busy instead of queueing behind an
// in-flight transmission.
func (d *Device) SendChat(messageID, text string) error {
	if d.isBusy() {
		return errs.New(errs.Busy, "facade.SendChat")
	}
	dg, err := d.mgr.SendChat(time.Now(), messageID, text)
	if err != nil {
		return err
	}
	d.sendDatagram(dg, true)
	return nil
}

// CreateOrJoinRoom transitions into a room and announces it.
func (d *Device) CreateOrJoinRoom(roomID, roomName string, isPrivate bool) error {
	dg, err := d.mgr.CreateOrJoinRoom(time.Now(), roomID, roomName, isPrivate)
	if err != nil {
		return err
	}
	d.sendDatagram(dg, false)
	return nil
}

// InvitePeer sends a room invite to a previously-discovered peer.
func (d *Device) InvitePeer(toUserID string) error {
	dg, err := d.mgr.InvitePeer(time.Now(), toUserID)
	if err != nil {
		return err
	}
	d.sendDatagram(dg, false)
	return nil
}

// AcceptInvite joins the room named in a received invite.
func (d *Device) AcceptInvite(invite session.Datagram) error {
	dg, err := d.mgr.AcceptInvite(time.Now(), invite)
	if err != nil {
		return err
	}
	d.sendDatagram(dg, false)
	return nil
}

// LeaveRoom exits the current room and announces the departure.
func (d *Device) LeaveRoom() error {
	dg, err := d.mgr.LeaveRoom(time.Now())
	if err != nil {
		return err
	}
	d.sendDatagram(dg, false)
	return nil
}

// TogglePrivacy flips the current room's privacy and, when entering
// private mode, announces the new key to current members. An empty
// newKey means "mint one": an unkeyed private room would silently send
// cleartext.
func (d *Device) TogglePrivacy(newKey string) error {
	if room := d.mgr.CurrentRoom(); room != nil && !room.IsPrivate && newKey == "" {
		newKey = randomKey()
	}
	dg, ok, err := d.mgr.TogglePrivacy(time.Now(), newKey)
	if err != nil {
		return err
	}
	if ok {
		d.sendDatagram(dg, false)
	}
	return nil
}

func randomKey() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CurrentRoom returns a snapshot of the room this device is in, or nil.
func (d *Device) CurrentRoom() *session.Room {
	return d.mgr.CurrentRoom()
}

// ListDiscoveredRooms returns rooms announced via room_update that this
// device has not yet joined.
func (d *Device) ListDiscoveredRooms() []session.DiscoveredRoom {
	return d.mgr.DiscoveredRooms()
}

// History returns the current room's bounded chat history.
func (d *Device) History() []session.ChatMessage {
	return d.mgr.History()
}
