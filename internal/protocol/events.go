// Package protocol defines the realtime wire contract shared by the server
// hub and the client connection manager.
//
// Every frame is a JSON envelope {"event": "<name>", "data": {...}}. The set
// of events is closed: each direction has its own sealed interface and
// decoding switches over the known names, so consumers dispatch with a type
// switch instead of string lookups.
package protocol

import "time"

// Event is the wire name of a frame.
type Event string

// Client -> server.
const (
	EventRoomJoin     Event = "room:join"
	EventRoomLeave    Event = "room:leave"
	EventSendMessage  Event = "chat:message"
	EventPing         Event = "ping"
	EventRoomKick     Event = "room:kick"
	EventVoucherClaim Event = "voucher:claim"
	EventPresenceSet  Event = "presence:set"
)

// Server -> client.
const (
	EventRoomJoined    Event = "room:joined"
	EventRoomLeft      Event = "room:left"
	EventChatMessage   Event = "chat:message"
	EventRoomsUpdate   Event = "rooms:update"
	EventRoomCount     Event = "rooms:updateCount"
	EventVoucher       Event = "system:voucher"
	EventPong          Event = "pong"
	EventRoomKicked    Event = "room:kicked"
	EventKickResult    Event = "room:kickResult"
	EventVoucherResult Event = "voucher:result"
	EventSuperseded    Event = "session:superseded"
	EventError         Event = "error"
)

// ClientEvent is an intent sent by a client.
type ClientEvent interface {
	Name() Event
	clientEvent()
}

// ServerEvent is a frame pushed by the server.
type ServerEvent interface {
	Name() Event
	serverEvent()
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type LeaveRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type SendMessage struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

type Ping struct{}

// KickUser is an admin request to remove Target from RoomID.
type KickUser struct {
	RoomID string `json:"roomId"`
	Target string `json:"target"`
}

type ClaimVoucher struct {
	Code string `json:"code"`
}

type SetPresence struct {
	Status string `json:"status"`
}

func (JoinRoom) Name() Event     { return EventRoomJoin }
func (LeaveRoom) Name() Event    { return EventRoomLeave }
func (SendMessage) Name() Event  { return EventSendMessage }
func (Ping) Name() Event         { return EventPing }
func (KickUser) Name() Event     { return EventRoomKick }
func (ClaimVoucher) Name() Event { return EventVoucherClaim }
func (SetPresence) Name() Event  { return EventPresenceSet }

func (JoinRoom) clientEvent()     {}
func (LeaveRoom) clientEvent()    {}
func (SendMessage) clientEvent()  {}
func (Ping) clientEvent()         {}
func (KickUser) clientEvent()     {}
func (ClaimVoucher) clientEvent() {}
func (SetPresence) clientEvent()  {}

// Message kinds carried by ChatMessage.Type.
const (
	MessageChat    = "chat"
	MessageVoucher = "voucher"
	MessageSystem  = "system"
)

// Room catalog actions carried by RoomsUpdate.Action.
const (
	RoomCreated = "created"
	RoomDeleted = "deleted"
)

// RoomInfo describes one catalog room.
type RoomInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	MaxUsers int    `json:"maxUsers,omitempty"`
}

type RoomJoined struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

type RoomLeft struct {
	RoomID string `json:"roomId"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Type      string    `json:"type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomsUpdate struct {
	Room   RoomInfo `json:"room"`
	Action string   `json:"action"`
}

type RoomCount struct {
	RoomID    string `json:"roomId"`
	UserCount int    `json:"userCount"`
}

type VoucherAnnouncement struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	VoucherCode   string `json:"voucherCode"`
	VoucherAmount int64  `json:"voucherAmount"`
	ExpiresIn     int    `json:"expiresIn"`
}

type Pong struct{}

type RoomKicked struct {
	RoomID string `json:"roomId"`
	By     string `json:"by"`
}

type KickResult struct {
	RoomID          string `json:"roomId"`
	Target          string `json:"target"`
	AdminKickCount  int64  `json:"adminKickCount"`
	AdminBanned     bool   `json:"adminBanned"`
	TargetKickCount int64  `json:"targetKickCount"`
	TargetBanned    bool   `json:"targetBanned"`
}

type VoucherResult struct {
	Outcome          string `json:"outcome"`
	Amount           int64  `json:"amount,omitempty"`
	NewBalance       int64  `json:"newBalance,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds,omitempty"`
	Message          string `json:"message"`
}

type Superseded struct{}

// Error codes carried by ErrorEvent.Code.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeBanned     = "banned"
	ErrCodeKicked     = "kicked"
	ErrCodeFlood      = "flood"
	ErrCodeNotMember  = "not_member"
	ErrCodeRoomFull   = "room_full"
	ErrCodeForbidden  = "forbidden"
)

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RoomJoined) Name() Event          { return EventRoomJoined }
func (RoomLeft) Name() Event            { return EventRoomLeft }
func (ChatMessage) Name() Event         { return EventChatMessage }
func (RoomsUpdate) Name() Event         { return EventRoomsUpdate }
func (RoomCount) Name() Event           { return EventRoomCount }
func (VoucherAnnouncement) Name() Event { return EventVoucher }
func (Pong) Name() Event                { return EventPong }
func (RoomKicked) Name() Event          { return EventRoomKicked }
func (KickResult) Name() Event          { return EventKickResult }
func (VoucherResult) Name() Event       { return EventVoucherResult }
func (Superseded) Name() Event          { return EventSuperseded }
func (ErrorEvent) Name() Event          { return EventError }

func (RoomJoined) serverEvent()          {}
func (RoomLeft) serverEvent()            {}
func (ChatMessage) serverEvent()         {}
func (RoomsUpdate) serverEvent()         {}
func (RoomCount) serverEvent()           {}
func (VoucherAnnouncement) serverEvent() {}
func (Pong) serverEvent()                {}
func (RoomKicked) serverEvent()          {}
func (KickResult) serverEvent()          {}
func (VoucherResult) serverEvent()       {}
func (Superseded) serverEvent()          {}
func (ErrorEvent) serverEvent()          {}
