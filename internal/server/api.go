package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/moderation"
	"roomchat/internal/protocol"
	"roomchat/internal/rooms"
	"roomchat/internal/security"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return false
	}
	return true
}

// pathID reads a path wildcard and rejects ids that cannot be store keys.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if !security.ValidateIdentifier(id) {
		writeError(w, http.StatusBadRequest, constants.MsgMissingFields)
		return "", false
	}
	return id, true
}

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET "+constants.EndpointHealth, s.handleHealth)

	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("POST /api/rooms", s.requireAdmin(s.handleCreateRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.requireAdmin(s.handleDeleteRoom))
	mux.HandleFunc("GET /api/rooms/{id}/participants", s.handleParticipants)

	mux.HandleFunc("GET /api/chat/list/{userId}", s.handleChatList)
	mux.HandleFunc("GET /api/chat/joined/{userId}", s.handleJoinedRooms)
	mux.HandleFunc("GET /api/presence/{userId}", s.handlePresenceStatus)

	mux.HandleFunc("POST /api/abuse/report", s.handleAbuseReport)
	mux.HandleFunc("GET /api/abuse/reports", s.requireAdmin(s.handleAbuseReports))

	mux.HandleFunc("DELETE /api/admin/bans/{userId}", s.requireAdmin(s.handleClearBan))
	mux.HandleFunc("DELETE /api/admin/admin-bans/{userId}", s.requireAdmin(s.handleClearAdminBan))
	mux.HandleFunc("GET /api/admin/kicks/{userId}", s.requireAdmin(s.handleKickCounts))

	mux.HandleFunc("GET /api/voucher/active", s.handleActiveVoucher)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.LocalConns(),
	})
}

type roomSummary struct {
	protocol.RoomInfo
	UserCount int `json:"userCount"`
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list := s.catalog.List(r.Context())
	out := make([]roomSummary, 0, len(list))
	for _, room := range list {
		out = append(out, roomSummary{RoomInfo: room, UserCount: s.presence.CountMembers(r.Context(), room.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": out})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in protocol.RoomInfo
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ID != "" && !security.ValidateIdentifier(in.ID) {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidRoom)
		return
	}
	if _, exists := s.catalog.Get(r.Context(), in.ID); in.ID != "" && exists {
		writeError(w, http.StatusConflict, "Room already exists")
		return
	}

	room, err := s.catalog.Create(r.Context(), in)
	if errors.Is(err, rooms.ErrInvalidRoom) {
		writeError(w, http.StatusBadRequest, constants.MsgMissingFields)
		return
	}
	if err != nil {
		s.log.Error("create room", "error", err)
		writeError(w, http.StatusInternalServerError, constants.MsgInternal)
		return
	}

	s.hub.Global(r.Context(), protocol.RoomsUpdate{Room: room, Action: protocol.RoomCreated})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "room": room})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	room, found, err := s.catalog.Delete(r.Context(), id)
	if err != nil {
		s.log.Error("delete room", "room", id, "error", err)
		writeError(w, http.StatusInternalServerError, constants.MsgInternal)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, constants.MsgRoomNotFound)
		return
	}

	s.hub.Global(r.Context(), protocol.RoomsUpdate{Room: room, Action: protocol.RoomDeleted})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"roomId":       id,
		"participants": s.presence.Participants(r.Context(), id),
	})
}

type chatListEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastMessage  string    `json:"lastMessage"`
	LastUsername string    `json:"lastUsername"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
	UserCount    int       `json:"userCount"`
}

// handleChatList lists the rooms a user belongs to with their latest line.
// Rooms that left the catalog are dropped from the user's index.
func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	ctx := r.Context()

	out := []chatListEntry{}
	for _, id := range s.presence.UserRooms(ctx, user) {
		room, found := s.catalog.Get(ctx, id)
		if !found {
			s.presence.LeaveRoom(ctx, id, user)
			continue
		}
		last := s.catalog.LastMessage(ctx, id)
		lastUser := last.Username
		if lastUser == "" {
			lastUser = room.Name
		}
		out = append(out, chatListEntry{
			ID:           id,
			Name:         room.Name,
			LastMessage:  last.Message,
			LastUsername: lastUser,
			Timestamp:    last.Timestamp,
			UserCount:    s.presence.CountMembers(ctx, id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": out, "dms": []any{}})
}

type joinedRoom struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleJoinedRooms(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	out := []joinedRoom{}
	for _, id := range s.presence.UserRooms(r.Context(), user) {
		if room, found := s.catalog.Get(r.Context(), id); found {
			out = append(out, joinedRoom{ID: id, Name: room.Name, Type: "room"})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": out})
}

func (s *Server) handlePresenceStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"userId":  user,
		"status":  s.presence.GetPresence(r.Context(), user),
	})
}

func (s *Server) handleAbuseReport(w http.ResponseWriter, r *http.Request) {
	var in moderation.ReportInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.Reporter = security.SanitizeInput(in.Reporter)
	in.MessageText = security.SanitizeInput(in.MessageText)

	rep, err := s.moderation.SubmitReport(r.Context(), in)
	switch {
	case errors.Is(err, moderation.ErrMissingFields):
		writeError(w, http.StatusBadRequest, constants.MsgMissingFields)
		return
	case errors.Is(err, moderation.ErrInvalidReason):
		writeError(w, http.StatusBadRequest, constants.MsgInvalidReason)
		return
	case err != nil:
		s.log.Error("submit abuse report", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to submit report")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"reportId":  rep.ID,
		"createdAt": rep.CreatedAt,
		"message":   "Report submitted successfully",
	})
}

func (s *Server) handleAbuseReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reports": s.moderation.Reports(r.Context())})
}

func (s *Server) handleClearBan(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": s.moderation.ClearGlobalBan(r.Context(), user)})
}

func (s *Server) handleClearAdminBan(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": s.moderation.ClearAdminBan(r.Context(), user)})
}

func (s *Server) handleKickCounts(w http.ResponseWriter, r *http.Request) {
	user, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"userId":         user,
		"adminKickCount": s.moderation.AdminKickCount(ctx, user),
		"adminBanned":    s.moderation.IsAdminGloballyBanned(ctx, user),
		"kickCount":      s.moderation.TargetKickCount(ctx, user),
		"globallyBanned": s.moderation.IsGloballyBanned(ctx, user),
	})
}

// handleActiveVoucher never exposes the code: it is only announced in chat.
func (s *Server) handleActiveVoucher(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vouchers.GetActiveVoucher(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"active":           true,
		"amount":           v.Amount,
		"remainingSeconds": v.RemainingSeconds(s.now()),
	})
}
