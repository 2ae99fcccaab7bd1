package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type named interface {
	Name() Event
}

// Encode wraps a client or server event in an envelope.
func Encode(ev named) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}

// DecodeClient parses a frame sent by a client.
func DecodeClient(frame []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev ClientEvent
	switch env.Event {
	case EventRoomJoin:
		ev = &JoinRoom{}
	case EventRoomLeave:
		ev = &LeaveRoom{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventPing:
		ev = &Ping{}
	case EventRoomKick:
		ev = &KickUser{}
	case EventVoucherClaim:
		ev = &ClaimVoucher{}
	case EventPresenceSet:
		ev = &SetPresence{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err := unmarshalData(env, ev); err != nil {
		return nil, err
	}
	return deref(ev).(ClientEvent), nil
}

// DecodeServer parses a frame pushed by the server.
func DecodeServer(frame []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev ServerEvent
	switch env.Event {
	case EventRoomJoined:
		ev = &RoomJoined{}
	case EventRoomLeft:
		ev = &RoomLeft{}
	case EventChatMessage:
		ev = &ChatMessage{}
	case EventRoomsUpdate:
		ev = &RoomsUpdate{}
	case EventRoomCount:
		ev = &RoomCount{}
	case EventVoucher:
		ev = &VoucherAnnouncement{}
	case EventPong:
		ev = &Pong{}
	case EventRoomKicked:
		ev = &RoomKicked{}
	case EventKickResult:
		ev = &KickResult{}
	case EventVoucherResult:
		ev = &VoucherResult{}
	case EventSuperseded:
		ev = &Superseded{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err := unmarshalData(env, ev); err != nil {
		return nil, err
	}
	return deref(ev).(ServerEvent), nil
}

func unmarshalData(env Envelope, target any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}

// deref turns the decoding pointer back into the value type so consumers
// switch on protocol.JoinRoom rather than *protocol.JoinRoom.
func deref(ev any) any {
	switch v := ev.(type) {
	case *JoinRoom:
		return *v
	case *LeaveRoom:
		return *v
	case *SendMessage:
		return *v
	case *Ping:
		return *v
	case *KickUser:
		return *v
	case *ClaimVoucher:
		return *v
	case *SetPresence:
		return *v
	case *RoomJoined:
		return *v
	case *RoomLeft:
		return *v
	case *ChatMessage:
		return *v
	case *RoomsUpdate:
		return *v
	case *RoomCount:
		return *v
	case *VoucherAnnouncement:
		return *v
	case *Pong:
		return *v
	case *RoomKicked:
		return *v
	case *KickResult:
		return *v
	case *VoucherResult:
		return *v
	case *Superseded:
		return *v
	case *ErrorEvent:
		return *v
	}
	return ev
}
