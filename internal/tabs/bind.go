package tabs

import (
	"cmp"

	"roomchat/internal/client"
	"roomchat/internal/constants"
	"roomchat/internal/protocol"
)

// Bind keeps s in step with the events m receives. The returned func
// detaches every listener.
func Bind(s *State, m *client.Manager) func() {
	offs := []func(){
		client.On(m, func(e protocol.RoomJoined) {
			name := cmp.Or(e.RoomName, e.RoomID)
			// a rejoin after reconnect must not steal focus
			if s.Has(e.RoomID) {
				s.UpdateRoomName(e.RoomID, name)
				return
			}
			s.Open(e.RoomID, name)
		}),
		client.On(m, func(e protocol.RoomLeft) {
			s.Close(e.RoomID)
		}),
		client.On(m, func(e protocol.RoomKicked) {
			s.Close(e.RoomID)
		}),
		client.On(m, func(e protocol.ChatMessage) {
			s.AddMessage(e.RoomID, Message{
				ID:        e.ID,
				Username:  e.Username,
				Text:      e.Text,
				Timestamp: e.Timestamp,
				Own:       e.UserID != "" && e.UserID == m.Credential().UserID,
				System:    e.Type == protocol.MessageSystem || e.Type == protocol.MessageVoucher,
			})
		}),
		client.On(m, func(e protocol.RoomsUpdate) {
			switch e.Action {
			case protocol.RoomDeleted:
				m.LeaveRoom(e.Room.ID)
				s.Close(e.Room.ID)
			case protocol.RoomCreated:
				s.UpdateRoomName(e.Room.ID, e.Room.Name)
			}
		}),
		// the room copies share this id, so the active tab keeps one
		client.On(m, func(e protocol.VoucherAnnouncement) {
			if room := s.Active(); room != "" {
				s.AddMessage(room, Message{
					ID:        e.ID,
					Username:  constants.SystemUsername,
					Text:      e.Message,
					Timestamp: s.now(),
					System:    true,
				})
			}
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
