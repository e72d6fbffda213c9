package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ultrasync-link/ultrasync/internal/errs"
	"github.com/ultrasync-link/ultrasync/internal/peer"
)

// ChatMessage is one entry in a room's local history, covering both
// peer-originated chat and locally synthesised system messages ("Bob
// joined the room").
type ChatMessage struct {
	ID          string
	RoomID      string
	FromUserID  string
	FromName    string
	Content     string
	IsEncrypted bool
	System      bool
	Timestamp   time.Time
}

// maxHistory is the bound named by the original source for how much chat
// history the session layer itself retains; any further UI-side trim is a
// façade/collaborator concern.
const maxHistory = 100

// dedupeWindow is how long a messageId is remembered to reject repeats.
const dedupeWindow = 60 * time.Second

// connectedExpiry is the session layer's own, longer patience for a silent
// peer: the discovery-layer peer table drops a device after 10s of silence,
// but a user the session has interacted with is only marked offline after
// 30s.
const connectedExpiry = 30 * time.Second

// RoomUpdatePeriod is how often a device in a public room should
// re-advertise it.
const RoomUpdatePeriod = 10 * time.Second

// DiscoveredRoom is a public room this device has heard advertised via
// room_update, independent of whatever room it is currently in.
type DiscoveredRoom struct {
	RoomID      string
	RoomName    string
	MemberCount int
	CreatedBy   string
	LastSeen    time.Time
}

// EventKind tags the variant carried by Event, replacing the source's
// mutable callback slots with a single typed channel any number of
// listeners may subscribe to via the façade.
type EventKind int

const (
	EventInviteReceived EventKind = iota
	EventRoomStateChanged
	EventMessageReceived
	EventRoomDiscovered
	EventUserOffline
	EventError
)

// Event is the tagged payload published on Manager.Events.
type Event struct {
	Kind    EventKind
	Invite  *Datagram
	Room    *Room
	Message *ChatMessage
	UserID  string
	Err     error
}

// ConnectedUser is the session layer's view of a peer it has heard from,
// with the longer 30s offline threshold rather than the discovery layer's
// 10s table expiry.
type ConnectedUser struct {
	UserID   string
	Username string
	LastSeen time.Time
	Online   bool
}

// Manager owns currentRoom, the optional encryption key, and the dedupe/
// self-loopback bookkeeping, and routes incoming datagrams by type.
type Manager struct {
	mu sync.Mutex

	selfID   string
	selfName string

	state       RoomState
	currentRoom *Room
	history     []ChatMessage

	discovered map[string]DiscoveredRoom
	connected  map[string]ConnectedUser

	seen map[string]time.Time // messageId -> receivedAt, for dedup

	fragID byte // rolling counter for outbound fragmentation

	peers  *peer.Table
	log    *log.Logger
	Events chan Event
}

// NewManager constructs a Manager for the given local identity. peers is
// the Peer Table this Manager refreshes as heartbeat/discovery datagrams
// arrive; log is required (never a package-level logger, per the
// ambient-mutable-state redesign note).
func NewManager(selfID, selfName string, peers *peer.Table, logger *log.Logger) *Manager {
	return &Manager{
		selfID:     selfID,
		selfName:   selfName,
		state:      StateIdle,
		discovered: make(map[string]DiscoveredRoom),
		connected:  make(map[string]ConnectedUser),
		seen:       make(map[string]time.Time),
		peers:      peers,
		log:        logger,
		Events:     make(chan Event, 32),
	}
}

func (m *Manager) emit(e Event) {
	select {
	case m.Events <- e:
	default:
		m.log.Warn("event channel full, dropping event", "kind", e.Kind)
	}
}

func (m *Manager) nextFragID() byte {
	m.fragID++
	return m.fragID
}

// Heartbeat builds the periodic self-announcement datagram.
func (m *Manager) Heartbeat(now time.Time) Datagram {
	return Datagram{Type: TypeHeartbeat, Timestamp: now.UnixMilli(), UserID: m.selfID, Username: m.selfName}
}

// Discovery builds the one-shot bootstrap datagram, identical in payload
// to Heartbeat but tagged differently so peers can log the distinction.
func (m *Manager) Discovery(now time.Time) Datagram {
	return Datagram{Type: TypeDiscovery, Timestamp: now.UnixMilli(), UserID: m.selfID, Username: m.selfName}
}

// CreateOrJoinRoom transitions IDLE -> IN_ROOM(public|private) and returns
// the join_room datagram to broadcast. If roomID is empty a fresh one is
// not generated here — the identifier always comes from the caller, so
// the Session Manager stays free of randomness concerns.
func (m *Manager) CreateOrJoinRoom(now time.Time, roomID, roomName string, isPrivate bool) (Datagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentRoom = newRoom(roomID, roomName, m.selfID, isPrivate, m.selfID, now)
	m.state = StateInRoom
	m.history = nil

	m.emitRoomStateChanged()

	return Datagram{
		Type:      TypeJoinRoom,
		Timestamp: now.UnixMilli(),
		UserID:    m.selfID,
		Username:  m.selfName,
		RoomID:    roomID,
	}, nil
}

// InvitePeer builds an invite addressed to toUserID for the current room.
// It fails if there is no current room to invite someone into.
func (m *Manager) InvitePeer(now time.Time, toUserID string) (Datagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil {
		return Datagram{}, errs.New(errs.DatagramMalformed, "session.InvitePeer")
	}

	d := Datagram{
		Type:         TypeInvite,
		Timestamp:    now.UnixMilli(),
		FromUserID:   m.selfID,
		FromUsername: m.selfName,
		ToUserID:     toUserID,
		RoomID:       m.currentRoom.ID,
		RoomName:     m.currentRoom.Name,
		IsPrivate:    m.currentRoom.IsPrivate,
	}
	if m.currentRoom.IsPrivate {
		d.Key = m.currentRoom.Key
	}
	return d, nil
}

// AcceptInvite transitions IDLE/IN_ROOM -> IN_ROOM(as advertised by the
// invite) and returns the join_room broadcast that announces the move.
func (m *Manager) AcceptInvite(now time.Time, invite Datagram) (Datagram, error) {
	if invite.Type != TypeInvite {
		return Datagram{}, errs.New(errs.DatagramMalformed, "session.AcceptInvite")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room := newRoom(invite.RoomID, invite.RoomName, invite.FromUserID, invite.IsPrivate, m.selfID, now)
	room.Key = invite.Key
	m.currentRoom = room
	m.state = StateInRoom
	m.history = nil

	m.emitRoomStateChanged()

	return Datagram{
		Type:      TypeJoinRoom,
		Timestamp: now.UnixMilli(),
		UserID:    m.selfID,
		Username:  m.selfName,
		RoomID:    invite.RoomID,
	}, nil
}

// LeaveRoom transitions IN_ROOM -> IDLE and returns the leave_room
// broadcast.
func (m *Manager) LeaveRoom(now time.Time) (Datagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil {
		return Datagram{}, errs.New(errs.DatagramMalformed, "session.LeaveRoom")
	}

	roomID := m.currentRoom.ID
	m.currentRoom = nil
	m.state = StateIdle
	m.history = nil

	m.emitRoomStateChanged()

	return Datagram{
		Type:      TypeLeaveRoom,
		Timestamp: now.UnixMilli(),
		UserID:    m.selfID,
		Username:  m.selfName,
		RoomID:    roomID,
	}, nil
}

// TogglePrivacy flips the current room's privacy. Entering private mode
// installs newKey as the room key and returns a private_key datagram to push to
// current members; leaving private mode clears the key locally and
// returns ok=false since there's nothing to broadcast.
func (m *Manager) TogglePrivacy(now time.Time, newKey string) (Datagram, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil {
		return Datagram{}, false, errs.New(errs.DatagramMalformed, "session.TogglePrivacy")
	}

	m.currentRoom.IsPrivate = !m.currentRoom.IsPrivate

	if m.currentRoom.IsPrivate {
		m.currentRoom.Key = newKey
		m.appendSystemMessage(now, "entered private mode")
		return Datagram{
			Type:      TypePrivateKey,
			Timestamp: now.UnixMilli(),
			RoomID:    m.currentRoom.ID,
			UserID:    m.selfID,
			Key:       newKey,
		}, true, nil
	}

	m.currentRoom.Key = ""
	m.appendSystemMessage(now, "entered public mode")
	return Datagram{}, false, nil
}

// SendChat builds a chat datagram for text, obfuscating it first if the
// current room is private.
func (m *Manager) SendChat(now time.Time, messageID, text string) (Datagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil {
		return Datagram{}, errs.New(errs.DatagramMalformed, "session.SendChat")
	}

	d := Datagram{
		Type:         TypeChat,
		Timestamp:    now.UnixMilli(),
		MessageID:    messageID,
		RoomID:       m.currentRoom.ID,
		FromUserID:   m.selfID,
		FromUsername: m.selfName,
	}

	if m.currentRoom.IsPrivate && m.currentRoom.Key != "" {
		d.Content = obfuscate(m.currentRoom.Key, text)
		d.IsEncrypted = true
	} else {
		d.Content = text
		d.IsEncrypted = false
	}

	m.history = appendBounded(m.history, ChatMessage{
		ID: messageID, RoomID: m.currentRoom.ID, FromUserID: m.selfID, FromName: m.selfName,
		Content: text, IsEncrypted: d.IsEncrypted, Timestamp: now,
	})

	return d, nil
}

// RoomUpdate builds the periodic public-room advertisement, or ok=false if
// there's no current room or it's private.
func (m *Manager) RoomUpdate(now time.Time) (Datagram, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil || m.currentRoom.IsPrivate {
		return Datagram{}, false
	}

	return Datagram{
		Type:        TypeRoomUpdate,
		Timestamp:   now.UnixMilli(),
		RoomID:      m.currentRoom.ID,
		RoomName:    m.currentRoom.Name,
		IsPrivate:   false,
		MemberCount: m.currentRoom.memberCount(),
		CreatedBy:   m.currentRoom.CreatedBy,
	}, true
}

// NextFragmentID returns a fresh byte for tagging the next outbound
// datagram's fragments.
func (m *Manager) NextFragmentID() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextFragID()
}

// Dispatch routes one reassembled, already-parsed datagram: self-loopback
// suppression, roomId filtering for membership/content types, and
// messageId dedup.
func (m *Manager) Dispatch(now time.Time, d Datagram) {
	sender := senderID(d)
	if sender != "" && sender == m.selfID {
		return // heard our own transmission via acoustic reflection
	}
	if sender != "" {
		m.touchConnected(now, sender, senderName(d))
	}

	switch d.Type {
	case TypeHeartbeat, TypeDiscovery:
		m.peers.Observe(d.UserID, d.Username)

	case TypeInvite:
		if d.ToUserID != m.selfID {
			return
		}
		cp := d
		m.emit(Event{Kind: EventInviteReceived, Invite: &cp})

	case TypeJoinRoom:
		m.peers.Observe(d.UserID, d.Username)
		m.withMatchingRoom(d.RoomID, func(r *Room) {
			r.addMember(d.UserID)
			m.appendSystemMessage(now, fmt.Sprintf("%s joined the room", displayName(d.Username, d.UserID)))
		})

	case TypeLeaveRoom:
		m.withMatchingRoom(d.RoomID, func(r *Room) {
			r.removeMember(d.UserID)
			m.appendSystemMessage(now, fmt.Sprintf("%s left the room", displayName(d.Username, d.UserID)))
		})

	case TypeRoomUpdate:
		// Deliberately bypasses the roomId filter: its entire purpose is
		// to reach devices who are NOT yet in the room. A room_update
		// carries no sender field, so loopback suppression here means
		// skipping advertisements for the room we are already in —
		// including our own, reflected back at us.
		m.mu.Lock()
		if m.currentRoom != nil && m.currentRoom.ID == d.RoomID {
			m.mu.Unlock()
			return
		}
		m.discovered[d.RoomID] = DiscoveredRoom{
			RoomID: d.RoomID, RoomName: d.RoomName, MemberCount: d.MemberCount,
			CreatedBy: d.CreatedBy, LastSeen: now,
		}
		room := m.discovered[d.RoomID]
		m.mu.Unlock()
		m.emit(Event{Kind: EventRoomDiscovered, Room: &Room{ID: room.RoomID, Name: room.RoomName, CreatedBy: room.CreatedBy}})

	case TypePrivateKey:
		m.withMatchingRoom(d.RoomID, func(r *Room) {
			r.Key = d.Key
			r.IsPrivate = true
		})

	case TypeChat:
		if !m.checkAndMarkSeen(d.MessageID, now) {
			return
		}
		m.withMatchingRoom(d.RoomID, func(r *Room) {
			content := d.Content
			isEncrypted := d.IsEncrypted
			if isEncrypted {
				plain, err := deobfuscate(r.Key, d.Content)
				if err != nil {
					content = "[encrypted — undecryptable]"
					m.log.Warn("chat decrypt failed", "roomId", d.RoomID, "from", d.FromUserID, "err", err)
				} else {
					content = plain
				}
			}
			msg := ChatMessage{
				ID: d.MessageID, RoomID: d.RoomID, FromUserID: d.FromUserID, FromName: d.FromUsername,
				Content: content, IsEncrypted: isEncrypted, Timestamp: now,
			}
			m.history = appendBounded(m.history, msg)
			m.emit(Event{Kind: EventMessageReceived, Message: &msg})
		})

	default:
		m.log.Debug("dropping datagram of unrecognised type", "type", d.Type)
	}
}

// withMatchingRoom runs fn with the current room locked, iff roomID
// matches — or is empty, for types that don't carry one — implementing
// delivery rule (a): "ignored if roomId is present and does not match
// currentRoom.id".
func (m *Manager) withMatchingRoom(roomID string, fn func(r *Room)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == nil {
		return
	}
	if roomID != "" && roomID != m.currentRoom.ID {
		return
	}
	fn(m.currentRoom)
}

// touchConnected refreshes the session layer's view of a user on any
// datagram they originate. A user previously marked offline flips back
// online here.
func (m *Manager) touchConnected(now time.Time, userID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[userID] = ConnectedUser{UserID: userID, Username: username, LastSeen: now, Online: true}
}

// SweepConnected marks every user silent for longer than connectedExpiry
// as offline, emitting one EventUserOffline per transition. Entries are
// kept (offline, not forgotten) so a UI can still render the name.
func (m *Manager) SweepConnected(now time.Time) {
	m.mu.Lock()
	var gone []string
	for id, u := range m.connected {
		if u.Online && now.Sub(u.LastSeen) > connectedExpiry {
			u.Online = false
			m.connected[id] = u
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()

	for _, id := range gone {
		m.emit(Event{Kind: EventUserOffline, UserID: id})
	}
}

// ConnectedUsers returns the session layer's view of every user it has
// heard from, online or not.
func (m *Manager) ConnectedUsers() []ConnectedUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectedUser, 0, len(m.connected))
	for _, u := range m.connected {
		out = append(out, u)
	}
	return out
}

func (m *Manager) checkAndMarkSeen(messageID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.seen {
		if now.Sub(t) > dedupeWindow {
			delete(m.seen, id)
		}
	}

	if _, dup := m.seen[messageID]; dup {
		return false
	}
	m.seen[messageID] = now
	return true
}

func (m *Manager) appendSystemMessage(now time.Time, text string) {
	roomID := ""
	if m.currentRoom != nil {
		roomID = m.currentRoom.ID
	}
	m.history = appendBounded(m.history, ChatMessage{RoomID: roomID, Content: text, System: true, Timestamp: now})
}

func (m *Manager) emitRoomStateChanged() {
	var cp *Room
	if m.currentRoom != nil {
		r := *m.currentRoom
		cp = &r
	}
	m.emit(Event{Kind: EventRoomStateChanged, Room: cp})
}

// ReportError surfaces a non-fatal failure (a failed send, a lost audio
// device) on the event channel. Receive-path failures are never reported
// this way — the channel is lossy by design.
func (m *Manager) ReportError(err error) {
	m.emit(Event{Kind: EventError, Err: err})
}

// CurrentRoom returns a snapshot of the current room, or nil if idle.
func (m *Manager) CurrentRoom() *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRoom == nil {
		return nil
	}
	cp := *m.currentRoom
	return &cp
}

// History returns a copy of the current room's retained chat history.
func (m *Manager) History() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatMessage(nil), m.history...)
}

// DiscoveredRooms returns every public room heard via room_update.
func (m *Manager) DiscoveredRooms() []DiscoveredRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DiscoveredRoom, 0, len(m.discovered))
	for _, r := range m.discovered {
		out = append(out, r)
	}
	return out
}

func appendBounded(h []ChatMessage, msg ChatMessage) []ChatMessage {
	h = append(h, msg)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	return h
}

func displayName(username, userID string) string {
	if username != "" {
		return username
	}
	return userID
}

// senderID extracts whichever field identifies the originating device for
// self-loopback suppression, per datagram type.
func senderID(d Datagram) string {
	switch d.Type {
	case TypeHeartbeat, TypeDiscovery, TypeJoinRoom, TypeLeaveRoom, TypePrivateKey:
		return d.UserID
	case TypeInvite:
		return d.FromUserID
	case TypeChat:
		return d.FromUserID
	default:
		return ""
	}
}

// senderName is senderID's companion: the display name carried alongside
// whichever field identified the sender.
func senderName(d Datagram) string {
	switch d.Type {
	case TypeInvite, TypeChat:
		return d.FromUsername
	default:
		return d.Username
	}
}
