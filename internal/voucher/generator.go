package voucher

import (
	"context"
	"time"

	"roomchat/internal/constants"
	"roomchat/internal/protocol"
)

// Announcement renders the chat text for v.
func (s *Service) Announcement(v Voucher) string {
	return s.printer.Sprintf("🎁 FREE CREDIT!! Free IDR %d for game, gift and many more! CMD /c %s to claim [%ds]",
		v.Amount, v.Code, int(s.cfg.Expiry/time.Second))
}

// Broadcast sends v once on the global channel and once more as a chat
// message into every active room. Every copy carries the same id so clients
// that get both keep one.
func (s *Service) Broadcast(ctx context.Context, b Broadcaster, v Voucher) {
	id := s.newID()
	text := s.Announcement(v)
	b.Global(ctx, protocol.VoucherAnnouncement{
		ID:            id,
		Message:       text,
		VoucherCode:   v.Code,
		VoucherAmount: v.Amount,
		ExpiresIn:     int(s.cfg.Expiry / time.Second),
	})

	rooms := s.rooms.ActiveRooms(ctx)
	for _, room := range rooms {
		b.Room(ctx, room, protocol.ChatMessage{
			ID:        id,
			RoomID:    room,
			Username:  constants.SystemUsername,
			Text:      text,
			Type:      protocol.MessageVoucher,
			Timestamp: s.now().UTC(),
		})
	}
	s.log.Info("📢 voucher broadcast", "code", v.Code, "amount", v.Amount, "rooms", len(rooms))
}

// CreateAndBroadcast is one generator tick.
func (s *Service) CreateAndBroadcast(ctx context.Context, b Broadcaster) {
	v, ok := s.CreateNewVoucher(ctx)
	if !ok {
		return
	}
	s.Broadcast(ctx, b, v)
}

// StartGenerator creates and broadcasts a voucher now and then every
// Interval until ctx is cancelled. It blocks.
func (s *Service) StartGenerator(ctx context.Context, b Broadcaster) {
	s.log.Info("🎫 voucher generator started", "interval", s.cfg.Interval)
	defer s.log.Info("🎫 voucher generator stopped")

	s.CreateAndBroadcast(ctx, b)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CreateAndBroadcast(ctx, b)
		}
	}
}
