// Package client keeps one live session to the chat server per running
// client: it connects with the stored credential, watches liveness with a
// heartbeat, reconnects with capped backoff, replays the rooms the user wants
// to be in and fans inbound events out to listeners.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"roomchat/internal/constants"
	"roomchat/internal/protocol"
)

var ErrClosed = errors.New("connection manager closed")

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Heartbeat      time.Duration
	ConnectTimeout time.Duration
	// Delays is the backoff table; the last entry repeats.
	Delays []time.Duration
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

func DefaultOptions() Options {
	return Options{
		Heartbeat:      constants.HeartbeatInterval,
		ConnectTimeout: constants.ConnectTimeout,
		Delays:         slices.Clone(constants.ReconnectDelays),
		Jitter:         constants.BackoffJitter,
	}
}

type listener struct {
	id uint64
	fn func(protocol.ServerEvent)
}

// Manager owns the client's single transport session. Create one per process
// with New and hand it to the components that need it.
type Manager struct {
	dialer Dialer
	creds  CredentialSource
	opts   Options
	log    *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	mu         sync.Mutex
	state      State
	cred       Credential
	conn       Conn
	gen        uint64
	attempts   int
	retry      *time.Timer
	heartbeat  *time.Timer
	lastPong   time.Time
	superseded bool

	desired []string

	nextID    uint64
	listeners map[protocol.Event][]listener
	watchers  []chan State
}

func New(dialer Dialer, creds CredentialSource, opts Options) *Manager {
	if len(opts.Delays) == 0 {
		opts.Delays = slices.Clone(constants.ReconnectDelays)
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = constants.HeartbeatInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = constants.ConnectTimeout
	}
	return &Manager{
		dialer:    dialer,
		creds:     creds,
		opts:      opts,
		log:       slog.Default().With("component", "client"),
		now:       time.Now,
		listeners: make(map[protocol.Event][]listener),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool { return m.State() == Connected }

// Credential is the identity of the current or last session.
func (m *Manager) Credential() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Rooms returns the desired membership in join order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.desired)
}

// Connect establishes the session if there is none. Concurrent callers share
// one attempt and its outcome. Without a credential it returns
// ErrNoCredential and never contacts the server.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return ErrClosed
	case Connected:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do("connect", func() (any, error) {
		return nil, m.dial(ctx)
	})
	return err
}

func (m *Manager) dial(ctx context.Context) error {
	cred, err := m.creds.Load()
	if err != nil {
		m.log.Warn("❌ no credential, not connecting", "error", err)
		// logged out between attempts: stop retrying until Connect is
		// called again
		m.mu.Lock()
		if m.state != Closed && m.state != Connected {
			m.stopRetryLocked()
			m.setStateLocked(Idle)
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == Connected {
		m.mu.Unlock()
		return nil
	}
	m.cred = cred
	m.stopRetryLocked()
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	m.log.Info("🔌 connecting", "user", cred.UserID, "username", cred.Username)
	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.dialer.Dial(dctx, cred)
	cancel()

	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		m.setStateLocked(Disconnected)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.log.Warn("❌ connection failed", "error", err)
		return fmt.Errorf("connect: %w", err)
	}

	m.gen++
	gen := m.gen
	m.conn = conn
	m.attempts = 0
	m.superseded = false
	m.lastPong = m.now()
	m.scheduleHeartbeatLocked(gen)
	rooms := slices.Clone(m.desired)
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.log.Info("✅ connected", "user", cred.UserID)
	go m.readLoop(conn, gen)

	if len(rooms) > 0 {
		m.log.Info("🔄 rejoining rooms", "count", len(rooms))
	}
	for _, room := range rooms {
		if err := conn.Send(protocol.JoinRoom{RoomID: room, Username: cred.Username, UserID: cred.UserID}); err != nil {
			m.drop(gen, err)
			return nil
		}
	}
	return nil
}

// setStateLocked records s and notifies watchers in order. A watcher that
// falls behind misses transitions rather than blocking the manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	for _, w := range m.watchers {
		select {
		case w <- s:
		default:
		}
	}
}

func (m *Manager) nextDelay() time.Duration {
	return backoff(m.opts.Delays, m.attempts, m.opts.Jitter, rand.Float64)
}

// backoff picks the delay for the given attempt. rnd returns values in
// [0, 1).
func backoff(delays []time.Duration, attempt int, jitter float64, rnd func() float64) time.Duration {
	d := delays[min(attempt, len(delays)-1)]
	if jitter <= 0 {
		return d
	}
	spread := 1 + jitter*(2*rnd()-1)
	return time.Duration(float64(d) * spread).Round(time.Millisecond)
}

// scheduleReconnectLocked arms the single backoff timer. An armed timer is
// left alone.
func (m *Manager) scheduleReconnectLocked() {
	if m.retry != nil || m.state == Closed {
		return
	}
	delay := m.nextDelay()
	m.setStateLocked(Reconnecting)
	m.log.Info("🔄 scheduling reconnect", "in", delay, "attempt", m.attempts+1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.retry != t || m.state == Closed {
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.attempts++
		m.mu.Unlock()
		_ = m.Connect(context.Background())
	})
	m.retry = t
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	m.heartbeat = time.AfterFunc(m.opts.Heartbeat, func() { m.beat(gen) })
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// beat sends one ping. A session without a pong for more than two periods
// is torn down even if the transport never reported an error.
func (m *Manager) beat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	if m.now().Sub(m.lastPong) > 2*m.opts.Heartbeat {
		m.mu.Unlock()
		m.log.Warn("💔 heartbeat timeout, reconnecting")
		m.forceReconnect(gen)
		return
	}
	conn := m.conn
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	if err := conn.Send(protocol.Ping{}); err != nil {
		m.drop(gen, err)
	}
}

// teardownLocked closes the current session and stops its heartbeat.
func (m *Manager) teardownLocked() {
	m.stopHeartbeatLocked()
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		go conn.Close()
	}
	m.gen++
}

// drop handles a transport failure of session gen: the session is gone and
// a reconnect is scheduled unless the server handed it to another device.
func (m *Manager) drop(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state == Closed {
		return
	}
	m.log.Warn("🔌 disconnected", "error", err)
	m.teardownLocked()
	m.setStateLocked(Disconnected)
	if m.superseded {
		m.log.Warn("session taken over by another connection, not reconnecting")
		return
	}
	m.scheduleReconnectLocked()
}

// forceReconnect discards session gen and connects again right away. The
// retry counter is kept.
func (m *Manager) forceReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.stopRetryLocked()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	go func() { _ = m.Connect(context.Background()) }()
}

// reconnectNow skips a pending backoff wait.
func (m *Manager) reconnectNow() {
	m.mu.Lock()
	if m.state == Closed || m.state == Connected || m.state == Connecting {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	m.mu.Unlock()

	go func() { _ = m.Connect(context.Background()) }()
}

// Foreground revalidates the session when the host comes back to the
// foreground: a stale or missing session is replaced immediately instead of
// waiting for the heartbeat or the backoff timer.
func (m *Manager) Foreground() {
	m.mu.Lock()
	state, gen, conn := m.state, m.gen, m.conn
	stale := m.now().Sub(m.lastPong) > 2*m.opts.Heartbeat
	m.mu.Unlock()

	switch {
	case state == Idle || state == Closed || state == Connecting:
	case state != Connected:
		m.log.Info("📱 foregrounded while offline, reconnecting")
		m.reconnectNow()
	case stale:
		m.log.Info("📱 foregrounded with a stale session, reconnecting")
		m.forceReconnect(gen)
	default:
		if err := conn.Send(protocol.Ping{}); err != nil {
			m.drop(gen, err)
		}
	}
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		ev, err := conn.Receive()
		if err != nil {
			m.drop(gen, err)
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		switch e := ev.(type) {
		case protocol.Pong:
			m.lastPong = m.now()
		case protocol.Superseded:
			m.superseded = true
		case protocol.RoomKicked:
			m.desired = slices.DeleteFunc(m.desired, func(r string) bool { return r == e.RoomID })
		}
		ls := slices.Clone(m.listeners[ev.Name()])
		m.mu.Unlock()

		for _, l := range ls {
			l.fn(ev)
		}
	}
}

// Emit sends ev on the live session. It returns false when the event was not
// delivered; in that case a reconnect is started.
func (m *Manager) Emit(ev protocol.ClientEvent) bool {
	m.mu.Lock()
	state, conn, gen := m.state, m.conn, m.gen
	m.mu.Unlock()

	if state != Connected {
		m.log.Debug("cannot emit, not connected", "event", ev.Name(), "state", state)
		if state != Closed && state != Idle {
			m.reconnectNow()
		}
		return false
	}
	if err := conn.Send(ev); err != nil {
		m.drop(gen, err)
		return false
	}
	return true
}

// JoinRoom records room as desired and sends the join when connected.
// Otherwise it is sent after the next successful connect.
func (m *Manager) JoinRoom(room string) bool {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return false
	}
	if !slices.Contains(m.desired, room) {
		m.desired = append(m.desired, room)
	}
	state, conn, gen, cred := m.state, m.conn, m.gen, m.cred
	m.mu.Unlock()

	if state != Connected {
		return false
	}
	if err := conn.Send(protocol.JoinRoom{RoomID: room, Username: cred.Username, UserID: cred.UserID}); err != nil {
		m.drop(gen, err)
		return false
	}
	return true
}

// LeaveRoom forgets room and sends the leave when connected.
func (m *Manager) LeaveRoom(room string) bool {
	m.mu.Lock()
	m.desired = slices.DeleteFunc(m.desired, func(r string) bool { return r == room })
	state, conn, gen, cred := m.state, m.conn, m.gen, m.cred
	m.mu.Unlock()

	if state != Connected {
		return false
	}
	if err := conn.Send(protocol.LeaveRoom{RoomID: room, Username: cred.Username}); err != nil {
		m.drop(gen, err)
		return false
	}
	return true
}

// Subscribe registers fn for every inbound event named ev. It may be called
// before any connection exists. The returned func removes the listener.
func (m *Manager) Subscribe(ev protocol.Event, fn func(protocol.ServerEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[ev] = append(m.listeners[ev], listener{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[ev] = slices.DeleteFunc(m.listeners[ev], func(l listener) bool { return l.id == id })
		if len(m.listeners[ev]) == 0 {
			delete(m.listeners, ev)
		}
	}
}

// On is a typed Subscribe.
func On[T protocol.ServerEvent](m *Manager, fn func(T)) func() {
	var zero T
	return m.Subscribe(zero.Name(), func(ev protocol.ServerEvent) {
		if e, ok := ev.(T); ok {
			fn(e)
		}
	})
}

// WatchState streams connectivity changes. The channel is closed by
// Disconnect.
func (m *Manager) WatchState() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan State, 16)
	if m.state == Closed {
		close(ch)
		return ch
	}
	m.watchers = append(m.watchers, ch)
	return ch
}

// Disconnect closes the session for good: timers stop, listeners and the
// desired membership are dropped. Calling it again does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return
	}
	m.log.Info("🔌 disconnecting")
	m.stopRetryLocked()
	m.teardownLocked()
	m.setStateLocked(Closed)
	m.desired = nil
	clear(m.listeners)
	for _, w := range m.watchers {
		close(w)
	}
	m.watchers = nil
}
