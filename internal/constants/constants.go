package constants

import "time"

const (
	AppName = "roomchat"
	Version = "0.4.0"
)

// Network defaults
const (
	DefaultPort      = "8080"
	DefaultServerURL = "ws://localhost:8080"
	WSBufferSize     = 4096
	MaxWSMessageSize = 64 * 1024
	WSWriteTimeout   = 5 * time.Second
	WSSendQueue      = 64
	WSReadTimeout    = 3 * HeartbeatInterval
	MaxMessageLength = 1000
	CleanupInterval  = 30 * time.Second
	ShutdownTimeout  = 5 * time.Second
	SystemUsername   = "System"
)

// Ephemeral state TTLs
const (
	DefaultTTL        = 300 * time.Second // session, membership
	OnlinePresenceTTL = 180 * time.Second
	LastMessageTTL    = 24 * time.Hour
	AbuseReportTTL    = 7 * 24 * time.Hour
)

// Moderation
const (
	TempKickDuration      = 10 * time.Minute
	AdminKickCooldown     = 10 * time.Minute
	AdminRetaliationDelay = 2 * time.Minute
	MaxAdminKicks         = 3
	MaxTargetKicks        = 3
	FloodMarkTTL          = 30 * time.Second
	FloodRatePerSecond    = 2.0
	FloodBurst            = 6
	MaxAuditLogsPerMinute = 300
)

// Voucher defaults
const (
	VoucherInterval      = 30 * time.Minute
	VoucherExpiry        = 60 * time.Second
	VoucherStoreBuffer   = 10 * time.Second
	VoucherClaimedBuffer = 60 * time.Second
	VoucherMinAmount     = 500
	VoucherMaxAmount     = 1000
	VoucherUserCooldown  = 30 * time.Minute
	VoucherCodeMin       = 1000000
	VoucherCodeMax       = 9999999
)

// Client connection manager
const (
	HeartbeatInterval = 25 * time.Second
	ConnectTimeout    = 15 * time.Second
	BackoffJitter     = 0.2
	MaxTabMessages    = 500
)

// DefaultTrustedProxies are the peers allowed to set X-Forwarded-For.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// ReconnectDelays is the capped reconnect backoff table.
var ReconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Connection limits
const (
	MaxConnectionsPerIP   = 20
	MaxConnectionsPerUser = 3
	MaxBodySize           = 64 * 1024
	RequestTimeout        = 10 * time.Second
	MaxAdminAttempts      = 5
	AdminBlockDuration    = 15 * time.Minute
)

// Store key prefixes
const (
	KeyPresence      = "presence:"
	KeySession       = "session:"
	KeyRoom          = "room:"
	KeyMembersSuffix = ":members"
	KeyUserRooms     = "user:rooms:"
	KeyLastMessage   = "room:lastmsg:"
	KeyRoomCatalog   = "rooms:catalog"
	KeyFlood         = "flood:"
	KeyTempKick      = "room:kick:"
	KeyKickCooldown  = "cooldown:adminKick:"
	KeyAdminKicks    = "ban:adminKick:"
	KeyAdminBan      = "ban:admin:"
	KeyTargetKicks   = "ban:kickCount:"
	KeyGlobalBan     = "ban:global:"
	KeyVoucherActive = "voucher:active"
	KeyVoucherClaim  = "voucher:claimed:"
	KeyVoucherCool   = "voucher:cooldown:"
	KeyAbuseReport   = "abuse:report:"
	KeyAbuseIndex    = "abuse:reports"
	KeyCredits       = "credits:balance:"
	BusChannel       = "roomchat:bus"
)

// API endpoints
const (
	EndpointWebSocket = "/ws"
	EndpointHealth    = "/healthz"
	AdminTokenHeader  = "X-Admin-Token"
)

// Time formats
const (
	TimeFormatShort = "15:04:05"
)

// Messages
const (
	MsgInvalidJSON      = "Invalid JSON"
	MsgMethodNotAllowed = "Method not allowed"
	MsgMissingFields    = "Missing required fields"
	MsgInvalidReason    = "Invalid reason"
	MsgUnauthorized     = "Unauthorized"
	MsgRoomNotFound     = "Room not found"
	MsgNoMessages       = "No messages yet"
	MsgBanned           = "You are banned from chat"
	MsgKicked           = "You were kicked from this room, try again later"
	MsgFlood            = "You are sending messages too fast"
	MsgNotMember        = "Join the room before sending messages"
	MsgRoomFull         = "Room is full"
	MsgNotAdmin         = "Only admins can kick"
	MsgSuperseded       = "Signed in from another device"
	MsgTimeout          = "Request timed out"
	MsgTooManyAttempts  = "Too many failed attempts"
	MsgMissingIdentity  = "userId and username are required"
	MsgConnLimit        = "Too many connections"
	MsgMessageTooLong   = "Message is too long"
	MsgEmptyMessage     = "Message is empty"
	MsgInvalidRoom      = "Invalid room id"
	MsgInvalidStatus    = "Invalid status"
	MsgCannotKickSelf   = "You cannot kick yourself"
	MsgInternal         = "Internal Server Error"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorPurple = "\033[35m"
)
