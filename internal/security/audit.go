package security

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"roomchat/internal/constants"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor,omitempty"`
	Target    string    `json:"target,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Details   string    `json:"details"`
	Severity  string    `json:"severity"`
}

// AuditLogger appends moderation and access events as JSON lines. Output is
// capped at MaxAuditLogsPerMinute so a kick storm cannot fill the disk.
type AuditLogger struct {
	mu          sync.Mutex
	closer      io.Closer
	enc         *json.Encoder
	logCount    map[string]int
	windowStart time.Time
	now         func() time.Time
	limit       int
}

// NewAuditLogger opens today's audit file under dir, or under the
// per-OS default directory when dir is empty.
func NewAuditLogger(dir string) (*AuditLogger, error) {
	if dir == "" {
		var err error
		if dir, err = defaultAuditDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	al := NewAuditWriter(file)
	al.closer = file
	return al, nil
}

// NewAuditWriter logs to w. The caller keeps ownership of w.
func NewAuditWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{
		enc:         json.NewEncoder(w),
		logCount:    make(map[string]int),
		windowStart: time.Now(),
		now:         time.Now,
		limit:       constants.MaxAuditLogsPerMinute,
	}
}

func defaultAuditDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName, "audit"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", constants.AppName, "audit"), nil
	default:
		return filepath.Join(home, ".local", "share", constants.AppName, "audit"), nil
	}
}

func (al *AuditLogger) Log(event AuditEvent) {
	if al == nil {
		return
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	if now.Sub(al.windowStart) > time.Minute {
		al.windowStart = now
		clear(al.logCount)
	}

	total := 0
	for _, count := range al.logCount {
		total += count
	}
	if total >= al.limit {
		return
	}

	al.logCount[event.EventType]++
	event.Timestamp = now
	_ = al.enc.Encode(event)
}

func (al *AuditLogger) LogKick(admin, target, room string, adminCount, targetCount int64) {
	al.Log(AuditEvent{
		EventType: "admin_kick",
		Actor:     admin,
		Target:    target,
		RoomID:    room,
		Details:   fmt.Sprintf("admin kicks: %d, target kicks: %d", adminCount, targetCount),
		Severity:  "warning",
	})
}

// LogBan records an escalation to a ban. kind is "global" or "admin".
func (al *AuditLogger) LogBan(kind, user string, count int64) {
	al.Log(AuditEvent{
		EventType: kind + "_ban",
		Target:    user,
		Details:   fmt.Sprintf("kick count reached %d", count),
		Severity:  "critical",
	})
}

func (al *AuditLogger) LogBanCleared(kind, user string) {
	al.Log(AuditEvent{
		EventType: kind + "_ban_cleared",
		Target:    user,
		Details:   "Ban and counter reset by administrator",
		Severity:  "info",
	})
}

func (al *AuditLogger) LogAbuseReport(reporter, target, room, reason string) {
	al.Log(AuditEvent{
		EventType: "abuse_report",
		Actor:     reporter,
		Target:    target,
		RoomID:    room,
		Details:   reason,
		Severity:  "info",
	})
}

func (al *AuditLogger) LogConnectionLimit(ip string) {
	al.Log(AuditEvent{
		EventType: "connection_limit",
		IP:        ip,
		Details:   "Connection limit exceeded",
		Severity:  "warning",
	})
}

func (al *AuditLogger) LogAuthFailure(ip, reason string) {
	al.Log(AuditEvent{
		EventType: "auth_failure",
		IP:        ip,
		Details:   reason,
		Severity:  "warning",
	})
}

func (al *AuditLogger) LogBruteForce(ip string, attempts int) {
	al.Log(AuditEvent{
		EventType: "brute_force",
		IP:        ip,
		Details:   fmt.Sprintf("Multiple failed admin token attempts: %d", attempts),
		Severity:  "critical",
	})
}

func (al *AuditLogger) LogSuperseded(user, ip string) {
	al.Log(AuditEvent{
		EventType: "session_superseded",
		Target:    user,
		IP:        ip,
		Details:   "Previous connection replaced by a new sign-in",
		Severity:  "info",
	})
}

func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.closer != nil {
		return al.closer.Close()
	}
	return nil
}
