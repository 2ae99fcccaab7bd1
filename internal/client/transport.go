package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/constants"
	"roomchat/internal/protocol"
)

// Conn is one live transport session. Send may be called from several
// goroutines; Receive is only called from the manager's read loop.
type Conn interface {
	Send(ev protocol.ClientEvent) error
	Receive() (protocol.ServerEvent, error)
	Close() error
}

// Dialer opens a session for a credential. A nil error means the server
// accepted the handshake.
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Conn, error)
}

// WebSocketDialer dials the server's websocket endpoint.
type WebSocketDialer struct {
	// ServerURL is the ws:// or wss:// base URL.
	ServerURL string
	dialer    websocket.Dialer
}

func NewWebSocketDialer(serverURL string) *WebSocketDialer {
	return &WebSocketDialer{
		ServerURL: serverURL,
		dialer: websocket.Dialer{
			ReadBufferSize:   constants.WSBufferSize,
			WriteBufferSize:  constants.WSBufferSize,
			HandshakeTimeout: constants.ConnectTimeout,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, cred Credential) (Conn, error) {
	q := url.Values{"userId": {cred.UserID}, "username": {cred.Username}}
	target := d.ServerURL + constants.EndpointWebSocket + "?" + q.Encode()

	ws, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	ws.SetReadLimit(constants.MaxWSMessageSize)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(ev protocol.ClientEvent) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Receive() (protocol.ServerEvent, error) {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		ev, err := protocol.DecodeServer(frame)
		if err != nil {
			// newer servers may push events this build does not know
			continue
		}
		return ev, nil
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
