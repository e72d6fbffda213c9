// Command ultrasync-chat is a terminal demo of the acoustic chat stack: it
// wires a real microphone/speaker pair into internal/facade and gives the
// operator a line-based REPL for rooms, invites and messages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/ultrasync-link/ultrasync/internal/audioio"
	"github.com/ultrasync-link/ultrasync/internal/config"
	"github.com/ultrasync-link/ultrasync/internal/facade"
	"github.com/ultrasync-link/ultrasync/internal/modem"
	"github.com/ultrasync-link/ultrasync/internal/session"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", defaultConfigPath(), "path to a YAML config file")
		identPath   = pflag.StringP("identity", "i", defaultIdentityPath(), "path to the identity file")
		debugLAN    = pflag.Bool("debug-lan-announce", false, "also announce over mDNS for local debugging with two instances on one machine (NOT the acoustic discovery mechanism)")
		mode        = pflag.StringP("mode", "m", "", "tone profile: high or low (overrides config)")
		volume      = pflag.IntP("volume", "v", -1, "transmit volume 0..100 (overrides config)")
		username    = pflag.StringP("username", "u", "", "display name (overrides identity)")
		deviceIndex = pflag.IntP("device-index", "d", -2, "capture/playback device index, -1 for platform default (overrides config)")
		logLevel    = pflag.StringP("log-level", "l", "", "debug, info, warn or error (overrides config)")
		gpioChip    = pflag.String("gpio-chip", "", "gpiochip device for TX/RX indicator LEDs, e.g. gpiochip0 (off when empty)")
		gpioTXLine  = pflag.Int("gpio-tx-line", 17, "output line offset for the TX LED")
		gpioRXLine  = pflag.Int("gpio-rx-line", 27, "output line offset for the RX LED")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = modem.Mode(*mode)
	}
	if *volume >= 0 {
		cfg.Volume = *volume
	}
	if *deviceIndex != -2 {
		cfg.DeviceIndex = *deviceIndex
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	id, err := config.LoadOrCreateIdentity(*identPath, cfg.Username)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load identity:", err)
		os.Exit(1)
	}
	if *username != "" {
		id.Username = *username
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Level: parseLevel(cfg.LogLevel)})

	var ind *audioio.Indicator
	if *gpioChip != "" {
		ind, err = audioio.NewIndicator(audioio.IndicatorConfig{Chip: *gpioChip, TXLine: *gpioTXLine, RXLine: *gpioRXLine})
		if err != nil {
			logger.Warn("gpio indicator unavailable, continuing without it", "err", err)
		} else {
			defer ind.Close()
		}
	}

	devCfg := audioio.DeviceConfig{DeviceIndex: cfg.DeviceIndex, SampleRate: cfg.SampleRate, FrameSize: 1024}
	dev := facade.New(facade.Options{
		SelfID:         id.UserID,
		SelfName:       id.Username,
		Mode:           cfg.Mode,
		Volume:         cfg.Volume,
		SampleRate:     cfg.SampleRate,
		GoertzelThresh: cfg.GoertzelThreshold,
		Capturer:       audioio.NewPortAudioCapturer(devCfg),
		Player:         audioio.NewPortAudioPlayer(devCfg),
		Indicator:      ind,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.AutoDiscovery {
		if err := dev.StartDiscovery(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "start discovery:", err)
			os.Exit(1)
		}
	} else {
		logger.Info("auto discovery disabled; type /start to begin")
	}
	defer dev.StopDiscovery()

	if *debugLAN {
		go announceDebugLAN(ctx, logger, id.UserID)
	}

	watcher := audioio.NewHotplugWatcher(logger)
	go watcher.Watch(ctx, func(present bool) {
		if present {
			logger.Info("audio device attached")
		} else {
			logger.Warn("audio device removed; restart discovery once it is back")
		}
	})

	invites := &pendingInvites{}
	go printEvents(ctx, dev, logger, invites)

	runREPL(ctx, dev, logger, invites)
}

// pendingInvites holds the most recent unaccepted invite, handed from the
// event-printing goroutine to the REPL's /accept command.
type pendingInvites struct {
	mu      sync.Mutex
	current *session.Datagram
}

func (p *pendingInvites) set(d session.Datagram) {
	p.mu.Lock()
	p.current = &d
	p.mu.Unlock()
}

func (p *pendingInvites) takeCurrent() *session.Datagram {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.current
	p.current = nil
	return d
}

func printEvents(ctx context.Context, dev *facade.Device, logger *log.Logger, invites *pendingInvites) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-dev.Events():
			switch ev.Kind {
			case session.EventInviteReceived:
				invites.set(*ev.Invite)
				fmt.Printf("\n* invite to room %q from %s (type /accept to join)\n", ev.Invite.RoomName, ev.Invite.FromUsername)
			case session.EventMessageReceived:
				fmt.Printf("\n[%s] %s\n", ev.Message.FromName, ev.Message.Content)
			case session.EventRoomStateChanged:
				if ev.Room != nil {
					fmt.Printf("\n* now in room %q\n", ev.Room.Name)
				} else {
					fmt.Println("\n* left the room")
				}
			case session.EventRoomDiscovered:
				fmt.Printf("\n* discovered room %q\n", ev.Room.Name)
			case session.EventUserOffline:
				fmt.Printf("\n* %s went offline\n", ev.UserID)
			case session.EventError:
				logger.Warn("session error", "err", ev.Err)
			}
		}
	}
}

func runREPL(ctx context.Context, dev *facade.Device, logger *log.Logger, invites *pendingInvites) {
	t, err := term.Open("/dev/tty", term.RawMode)
	if err != nil {
		logger.Debug("raw terminal unavailable, falling back to line buffering", "err", err)
		runLineREPL(ctx, dev, logger, invites, bufio.NewScanner(os.Stdin))
		return
	}
	defer t.Restore()
	defer t.Close()

	runLineREPL(ctx, dev, logger, invites, bufio.NewScanner(rawLineReader{t}))
}

// rawLineReader adapts a raw-mode term.Term into something bufio.Scanner
// can split on newlines while still echoing and handling backspace itself,
// since raw mode disables the terminal's own echo.
type rawLineReader struct {
	t *term.Term
}

func (r rawLineReader) Read(p []byte) (int, error) {
	buf := make([]byte, 1)
	for {
		n, err := r.t.Read(buf)
		if n == 0 || err != nil {
			return 0, err
		}
		b := buf[0]
		switch b {
		case 0x03: // Ctrl+C
			return 0, fmt.Errorf("interrupted")
		case 0x7f, 0x08: // backspace
			fmt.Print("\b \b")
			continue
		case '\r':
			fmt.Print("\n")
			p[0] = '\n'
			return 1, nil
		default:
			os.Stdout.Write(buf)
			p[0] = b
			return 1, nil
		}
	}
}

func runLineREPL(ctx context.Context, dev *facade.Device, logger *log.Logger, invites *pendingInvites, scanner *bufio.Scanner) {
	fmt.Println("ultrasync-chat ready. Commands: /start, /stop, /join <id> <name>, /invite <userId>, /accept, /leave, /private <key>, /public, /peers, /users, /stats, /quit")
	msgSeq := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/start":
			if err := dev.StartDiscovery(ctx); err != nil {
				logger.Warn("start failed", "err", err)
			}
		case line == "/stop":
			dev.StopDiscovery()
		case line == "/peers":
			for _, p := range dev.Peers() {
				fmt.Printf("  %s (%s) last seen %s\n", p.Username, p.UserID, formatTimestamp(p.LastSeen))
			}
		case line == "/users":
			for _, u := range dev.ConnectedUsers() {
				state := "online"
				if !u.Online {
					state = "offline"
				}
				fmt.Printf("  %s (%s) %s, last heard %s\n", u.Username, u.UserID, state, formatTimestamp(u.LastSeen))
			}
		case line == "/stats":
			st := dev.Stats()
			fmt.Printf("  sent=%d received=%d rejected=%d bytesTx=%d peersKnown=%d\n",
				st.FramesSent, st.FramesReceived, st.FramesRejected, st.BytesTransmitted, st.PeersKnown)
		case strings.HasPrefix(line, "/join "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/join "), " ", 2)
			name := "room"
			if len(parts) > 1 {
				name = parts[1]
			}
			if err := dev.CreateOrJoinRoom(parts[0], name, false); err != nil {
				logger.Warn("join failed", "err", err)
			}
		case strings.HasPrefix(line, "/invite "):
			if err := dev.InvitePeer(strings.TrimPrefix(line, "/invite ")); err != nil {
				logger.Warn("invite failed", "err", err)
			}
		case line == "/accept":
			invite := invites.takeCurrent()
			if invite == nil {
				fmt.Println("no pending invite")
				continue
			}
			if err := dev.AcceptInvite(*invite); err != nil {
				logger.Warn("accept failed", "err", err)
			}
		case line == "/leave":
			if err := dev.LeaveRoom(); err != nil {
				logger.Warn("leave failed", "err", err)
			}
		case strings.HasPrefix(line, "/private "):
			if room := dev.CurrentRoom(); room != nil && room.IsPrivate {
				fmt.Println("already private")
				continue
			}
			if err := dev.TogglePrivacy(strings.TrimPrefix(line, "/private ")); err != nil {
				logger.Warn("enter private failed", "err", err)
			}
		case line == "/public":
			if room := dev.CurrentRoom(); room != nil && !room.IsPrivate {
				fmt.Println("already public")
				continue
			}
			if err := dev.TogglePrivacy(""); err != nil {
				logger.Warn("leave private failed", "err", err)
			}
		default:
			msgSeq++
			id := fmt.Sprintf("%d-%d", time.Now().UnixNano(), msgSeq)
			if err := dev.SendChat(id, line); err != nil {
				logger.Warn("send failed", "err", err)
			}
		}
	}
}

// announceDebugLAN is a LAN-only convenience for a developer running two
// instances on one machine; it is never consulted by the peer-discovery
// path, which stays purely acoustic.
func announceDebugLAN(ctx context.Context, logger *log.Logger, userID string) {
	cfg := dnssd.Config{
		Name: "ultrasync-" + userID,
		Type: "_ultrasync-debug._tcp",
		Port: 0,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		logger.Debug("lan debug announce unavailable", "err", err)
		return
	}
	resp, err := dnssd.NewResponder()
	if err != nil {
		logger.Debug("lan debug responder unavailable", "err", err)
		return
	}
	if _, err := resp.Add(svc); err != nil {
		logger.Debug("lan debug announce failed", "err", err)
		return
	}
	_ = resp.Respond(ctx)
}

var peerTimestampFormat = mustStrftime("%H:%M:%S")

func mustStrftime(pattern string) *strftime.Strftime {
	f, err := strftime.New(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

func formatTimestamp(t time.Time) string {
	return peerTimestampFormat.FormatString(t)
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ultrasync-identity.yaml"
	}
	return filepath.Join(home, ".ultrasync", "identity.yaml")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ultrasync", "config.yaml")
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
