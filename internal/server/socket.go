package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"roomchat/internal/constants"
	"roomchat/internal/moderation"
	"roomchat/internal/presence"
	"roomchat/internal/protocol"
	"roomchat/internal/security"
)

// HandleWebSocket upgrades GET /ws?userId=..&username=.. and serves the
// socket until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.proxies.ClientIP(r)

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	username := security.SanitizeInput(r.URL.Query().Get("username"))
	if !security.ValidateIdentifier(userID) || username == "" {
		s.audit.LogAuthFailure(ip, "missing or invalid identity")
		writeError(w, http.StatusBadRequest, constants.MsgMissingIdentity)
		return
	}

	release, refused := s.connLimiter.Acquire(ip, userID)
	if release == nil {
		s.audit.LogConnectionLimit(ip)
		s.log.Warn("🚫 connection limit reached", "ip", ip, "user", userID, "limit", refused)
		writeError(w, http.StatusTooManyRequests, constants.MsgConnLimit)
		return
	}
	defer release()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("❌ websocket upgrade failed", "ip", ip, "error", err)
		return
	}
	ws.SetReadLimit(constants.MaxWSMessageSize)

	limiter := rate.NewLimiter(rate.Limit(s.cfg.Flood.Rate), s.cfg.Flood.Burst)
	c := newClient(ws, uuid.NewString(), userID, username, ip, limiter)
	s.hub.register(c)
	go c.writePump()

	ctx := r.Context()
	s.openSession(ctx, c)
	s.log.Info("🔌 client connected", "user", userID, "conn", c.id, "ip", ip)

	s.readLoop(ctx, c)
	s.disconnect(c)
}

func (s *Server) openSession(ctx context.Context, c *client) {
	superseded := s.presence.OpenSession(ctx, presence.Session{
		UserID:       c.userID,
		Username:     c.username,
		ConnectionID: c.id,
		ConnectedAt:  s.now().UTC(),
	})
	if superseded != "" {
		s.hub.CloseConn(ctx, superseded, protocol.Superseded{})
		s.audit.LogSuperseded(c.userID, c.ip)
		s.log.Info("🔁 session superseded", "user", c.userID, "old", superseded, "new", c.id)
	}
	s.presence.MarkOnline(ctx, c.userID)
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(constants.WSReadTimeout))
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}
		s.dispatch(ctx, c, frame)
	}
}

// disconnect releases everything c held. Session, presence and memberships
// are only cleared while c still owns the session: a superseded socket must
// not undo its replacement.
func (s *Server) disconnect(c *client) {
	c.close()
	changed := s.hub.unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
	defer cancel()

	if s.presence.IsCurrent(ctx, c.userID, c.id) {
		s.presence.CloseSession(ctx, c.userID, c.id)
		s.presence.MarkOffline(ctx, c.userID)
		for _, room := range s.presence.UserRooms(ctx, c.userID) {
			s.presence.LeaveRoom(ctx, room, c.userID)
			changed = append(changed, room)
		}
	}

	slices.Sort(changed)
	for _, room := range slices.Compact(changed) {
		s.broadcastCount(ctx, room)
	}
	s.log.Info("🔌 client disconnected", "user", c.userID, "conn", c.id)
}

func (s *Server) dispatch(ctx context.Context, c *client, frame []byte) {
	ev, err := protocol.DecodeClient(frame)
	if err != nil {
		s.log.Debug("bad frame", "conn", c.id, "error", err)
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgInvalidJSON)
		return
	}

	switch ev := ev.(type) {
	case protocol.JoinRoom:
		s.handleJoin(ctx, c, ev)
	case protocol.LeaveRoom:
		s.handleLeave(ctx, c, ev)
	case protocol.SendMessage:
		s.handleMessage(ctx, c, ev)
	case protocol.Ping:
		s.handlePing(ctx, c)
	case protocol.KickUser:
		s.handleKick(ctx, c, ev)
	case protocol.ClaimVoucher:
		s.handleClaim(ctx, c, ev.Code)
	case protocol.SetPresence:
		s.handlePresence(ctx, c, ev)
	}
}

func sendError(c *client, code, message string) {
	c.reply(protocol.ErrorEvent{Code: code, Message: message})
}

func (s *Server) broadcastCount(ctx context.Context, room string) {
	s.hub.Global(ctx, protocol.RoomCount{RoomID: room, UserCount: s.presence.CountMembers(ctx, room)})
}

func (s *Server) handleJoin(ctx context.Context, c *client, ev protocol.JoinRoom) {
	room := strings.TrimSpace(ev.RoomID)
	if !security.ValidateIdentifier(room) {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgInvalidRoom)
		return
	}
	info, ok := s.catalog.Get(ctx, room)
	if !ok {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgRoomNotFound)
		return
	}

	switch s.moderation.CanJoin(ctx, c.userID, room) {
	case moderation.JoinBanned, moderation.JoinAdminBanned:
		sendError(c, protocol.ErrCodeBanned, constants.MsgBanned)
		return
	case moderation.JoinKicked:
		sendError(c, protocol.ErrCodeKicked, constants.MsgKicked)
		return
	}

	rejoin := s.hub.attached(c, room)
	if !rejoin && info.MaxUsers > 0 && !s.presence.IsMember(ctx, room, c.userID) &&
		s.presence.CountMembers(ctx, room) >= info.MaxUsers {
		sendError(c, protocol.ErrCodeRoomFull, constants.MsgRoomFull)
		return
	}

	s.presence.JoinRoom(ctx, room, c.userID)
	s.hub.attach(c, room)
	c.reply(protocol.RoomJoined{RoomID: room, RoomName: info.Name})

	if !rejoin {
		s.hub.Room(ctx, room, protocol.ChatMessage{
			ID:        s.newID(),
			RoomID:    room,
			Username:  constants.SystemUsername,
			Text:      fmt.Sprintf("%s has entered", c.username),
			Type:      protocol.MessageSystem,
			Timestamp: s.now().UTC(),
		})
		s.log.Debug("room joined", "user", c.userID, "room", room)
	}
	s.broadcastCount(ctx, room)
}

func (s *Server) handleLeave(ctx context.Context, c *client, ev protocol.LeaveRoom) {
	room := strings.TrimSpace(ev.RoomID)
	if !security.ValidateIdentifier(room) {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgInvalidRoom)
		return
	}

	wasAttached := s.hub.detach(c, room)
	s.presence.LeaveRoom(ctx, room, c.userID)
	c.reply(protocol.RoomLeft{RoomID: room})

	if wasAttached {
		s.hub.Room(ctx, room, protocol.ChatMessage{
			ID:        s.newID(),
			RoomID:    room,
			Username:  constants.SystemUsername,
			Text:      fmt.Sprintf("%s has left", c.username),
			Type:      protocol.MessageSystem,
			Timestamp: s.now().UTC(),
		})
	}
	s.broadcastCount(ctx, room)
}

// claimCommand extracts the code from "/c <code>".
func claimCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 || fields[0] != "/c" {
		return "", false
	}
	return fields[1], true
}

func (s *Server) handleMessage(ctx context.Context, c *client, ev protocol.SendMessage) {
	room := strings.TrimSpace(ev.RoomID)
	if !s.hub.attached(c, room) {
		sendError(c, protocol.ErrCodeNotMember, constants.MsgNotMember)
		return
	}

	if s.moderation.CheckFlood(ctx, c.userID) {
		sendError(c, protocol.ErrCodeFlood, constants.MsgFlood)
		return
	}
	if !c.limiter.Allow() {
		s.moderation.SetFlood(ctx, c.userID, s.cfg.Flood.MarkTTL)
		s.log.Info("🌊 flood mark set", "user", c.userID, "room", room)
		sendError(c, protocol.ErrCodeFlood, constants.MsgFlood)
		return
	}

	text := security.SanitizeInput(ev.Text)
	if text == "" {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgEmptyMessage)
		return
	}
	if utf8.RuneCountInString(text) > constants.MaxMessageLength {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgMessageTooLong)
		return
	}

	if code, ok := claimCommand(text); ok {
		s.handleClaim(ctx, c, code)
		return
	}

	msg := protocol.ChatMessage{
		ID:        s.newID(),
		RoomID:    room,
		UserID:    c.userID,
		Username:  c.username,
		Text:      text,
		Type:      protocol.MessageChat,
		Timestamp: s.now().UTC(),
	}
	s.catalog.SetLastMessage(ctx, msg)
	s.hub.Room(ctx, room, msg)
}

// handlePing is the liveness signal relayed from the client heartbeat.
func (s *Server) handlePing(ctx context.Context, c *client) {
	c.reply(protocol.Pong{})

	if !s.presence.RefreshOnline(ctx, c.userID) && s.presence.GetPresence(ctx, c.userID) == presence.StatusOffline {
		s.presence.MarkOnline(ctx, c.userID)
	}
	s.presence.RefreshSession(ctx, c.userID, c.id)
	s.presence.TouchRooms(ctx, c.userID)
}

func (s *Server) handleKick(ctx context.Context, c *client, ev protocol.KickUser) {
	if !s.cfg.IsAdmin(c.userID) {
		sendError(c, protocol.ErrCodeForbidden, constants.MsgNotAdmin)
		return
	}
	if s.moderation.IsAdminGloballyBanned(ctx, c.userID) {
		sendError(c, protocol.ErrCodeBanned, constants.MsgBanned)
		return
	}

	room := strings.TrimSpace(ev.RoomID)
	target := strings.TrimSpace(ev.Target)
	if !security.ValidateIdentifier(room) || !security.ValidateIdentifier(target) {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgMissingFields)
		return
	}
	if target == c.userID {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgCannotKickSelf)
		return
	}

	res := s.moderation.AdminKick(ctx, c.userID, target, room)
	s.presence.LeaveRoom(ctx, room, target)
	s.hub.EvictFromRoom(ctx, target, room, protocol.RoomKicked{RoomID: room, By: c.username})
	if res.TargetBanned {
		s.hub.User(ctx, target, protocol.ErrorEvent{Code: protocol.ErrCodeBanned, Message: constants.MsgBanned})
	}

	c.reply(protocol.KickResult{
		RoomID:          room,
		Target:          target,
		AdminKickCount:  res.AdminKickCount,
		AdminBanned:     res.AdminBanned,
		TargetKickCount: res.TargetKickCount,
		TargetBanned:    res.TargetBanned,
	})
	s.broadcastCount(ctx, room)
}

func (s *Server) handleClaim(ctx context.Context, c *client, code string) {
	res := s.vouchers.ClaimVoucher(ctx, c.userID, strings.TrimSpace(code))
	c.reply(protocol.VoucherResult{
		Outcome:          string(res.Outcome),
		Amount:           res.Amount,
		NewBalance:       res.NewBalance,
		RemainingSeconds: res.RemainingSeconds,
		Message:          s.vouchers.Message(res),
	})
}

func (s *Server) handlePresence(ctx context.Context, c *client, ev protocol.SetPresence) {
	status, ok := presence.ParseStatus(ev.Status)
	if !ok || status == presence.StatusOffline {
		sendError(c, protocol.ErrCodeBadRequest, constants.MsgInvalidStatus)
		return
	}
	s.presence.SetStatus(ctx, c.userID, status)
}
