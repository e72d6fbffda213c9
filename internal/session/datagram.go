// Package session implements the discovery/chat protocol layered on top of
// the frame codec: the message types, the local room state machine, the
// obfuscation cipher, and duplicate/self-loopback suppression.
package session

// Type identifies the datagram's payload shape, carried in every envelope
// as the "type" field.
type Type string

const (
	TypeHeartbeat  Type = "heartbeat"
	TypeDiscovery  Type = "discovery"
	TypeInvite     Type = "invite"
	TypeJoinRoom   Type = "join_room"
	TypeLeaveRoom  Type = "leave_room"
	TypeRoomUpdate Type = "room_update"
	TypePrivateKey Type = "private_key"
	TypeChat       Type = "chat"
)

// Datagram is the JSON envelope exchanged between devices. Only the fields
// relevant to Type are populated; field order in the wire encoding carries
// no meaning, since both sides access fields by name.
type Datagram struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`

	// heartbeat / discovery
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	// invite
	FromUserID   string `json:"fromUserId,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
	ToUserID     string `json:"toUserId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	RoomName     string `json:"roomName,omitempty"`
	IsPrivate    bool   `json:"isPrivate,omitempty"`
	Key          string `json:"key,omitempty"`

	// room_update
	MemberCount int    `json:"memberCount,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`

	// chat
	MessageID   string `json:"messageId,omitempty"`
	Content     string `json:"content,omitempty"`
	IsEncrypted bool   `json:"isEncrypted,omitempty"`
}
