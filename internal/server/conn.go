package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"roomchat/internal/constants"
	"roomchat/internal/protocol"
)

// client is one accepted websocket. Frames are queued on send and written by
// writePump; the read side runs on the handler goroutine.
type client struct {
	id       string
	userID   string
	username string
	ip       string

	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// guarded by Hub.mu
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(ws *websocket.Conn, id, userID, username, ip string, limiter *rate.Limiter) *client {
	return &client{
		id:       id,
		userID:   userID,
		username: username,
		ip:       ip,
		ws:       ws,
		send:     make(chan []byte, constants.WSSendQueue),
		limiter:  limiter,
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// enqueue reports false only when the send queue is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) reply(ev protocol.ServerEvent) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return
	}
	if !c.enqueue(frame) {
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// writePump owns all writes. Once the client is closed it flushes what is
// already queued, sends a close frame and closes the socket, which also ends
// the read loop.
func (c *client) writePump() {
	defer c.ws.Close()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					if err := c.write(frame); err != nil {
						return
					}
				default:
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(constants.WSWriteTimeout))
					return
				}
			}
		}
	}
}
