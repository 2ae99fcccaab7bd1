// Package tabs holds the client's open rooms: their message buffers and which
// one is in front.
package tabs

import (
	"slices"
	"sync"
	"time"

	"roomchat/internal/constants"
)

type Message struct {
	ID        string
	Username  string
	Text      string
	Timestamp time.Time
	Own       bool
	System    bool
}

// Tab is a snapshot of one open room.
type Tab struct {
	RoomID       string
	RoomName     string
	Messages     []Message
	LastReadTime time.Time
	Active       bool
}

type ChangeKind int

const (
	TabOpened ChangeKind = iota
	TabClosed
	TabSwitched
	MessageAdded
	RoomRenamed
	TabsCleared
)

// Change describes one mutation. Message is set for MessageAdded.
type Change struct {
	Kind    ChangeKind
	RoomID  string
	Message Message
}

type tab struct {
	roomID   string
	roomName string
	messages []Message
	seen     map[string]struct{}
	lastRead time.Time
}

// State is safe for concurrent use. At most one tab is active.
type State struct {
	maxMessages int
	now         func() time.Time

	mu       sync.Mutex
	tabs     []*tab
	active   string
	watchers []func(Change)
}

type Option func(*State)

func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithMaxMessages bounds each tab's buffer; older messages are dropped.
func WithMaxMessages(n int) Option {
	return func(s *State) { s.maxMessages = n }
}

func New(opts ...Option) *State {
	s := &State{maxMessages: constants.MaxTabMessages, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn for every mutation. fn runs after the lock is
// released, on the goroutine that made the change.
func (s *State) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *State) notify(c Change) {
	s.mu.Lock()
	ws := slices.Clone(s.watchers)
	s.mu.Unlock()
	for _, w := range ws {
		w(c)
	}
}

func (s *State) find(roomID string) (int, *tab) {
	for i, t := range s.tabs {
		if t.roomID == roomID {
			return i, t
		}
	}
	return -1, nil
}

// Open adds a tab for roomID, or focuses the existing one, and makes it
// active.
func (s *State) Open(roomID, roomName string) {
	s.mu.Lock()
	kind := TabSwitched
	if _, t := s.find(roomID); t == nil {
		s.tabs = append(s.tabs, &tab{
			roomID:   roomID,
			roomName: roomName,
			seen:     make(map[string]struct{}),
			lastRead: s.now(),
		})
		kind = TabOpened
	}
	s.active = roomID
	s.mu.Unlock()

	s.notify(Change{Kind: kind, RoomID: roomID})
}

// Close removes roomID. Closing the active tab promotes the first remaining
// tab, or leaves none active.
func (s *State) Close(roomID string) bool {
	s.mu.Lock()
	i, t := s.find(roomID)
	if t == nil {
		s.mu.Unlock()
		return false
	}
	s.tabs = slices.Delete(s.tabs, i, i+1)
	if s.active == roomID {
		s.active = ""
		if len(s.tabs) > 0 {
			s.active = s.tabs[0].roomID
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: TabClosed, RoomID: roomID})
	return true
}

// Switch makes an open tab active. Unknown rooms are ignored.
func (s *State) Switch(roomID string) bool {
	s.mu.Lock()
	if _, t := s.find(roomID); t == nil {
		s.mu.Unlock()
		return false
	}
	s.active = roomID
	s.mu.Unlock()

	s.notify(Change{Kind: TabSwitched, RoomID: roomID})
	return true
}

// AddMessage appends msg to roomID's buffer. It reports false when the tab
// is not open or a message with the same id is already there.
func (s *State) AddMessage(roomID string, msg Message) bool {
	s.mu.Lock()
	_, t := s.find(roomID)
	if t == nil {
		s.mu.Unlock()
		return false
	}
	if msg.ID != "" {
		if _, dup := t.seen[msg.ID]; dup {
			s.mu.Unlock()
			return false
		}
		t.seen[msg.ID] = struct{}{}
	}
	t.messages = append(t.messages, msg)
	if over := len(t.messages) - s.maxMessages; s.maxMessages > 0 && over > 0 {
		for _, old := range t.messages[:over] {
			delete(t.seen, old.ID)
		}
		t.messages = slices.Delete(t.messages, 0, over)
	}
	t.lastRead = s.now()
	s.mu.Unlock()

	s.notify(Change{Kind: MessageAdded, RoomID: roomID, Message: msg})
	return true
}

func (s *State) UpdateRoomName(roomID, name string) bool {
	s.mu.Lock()
	_, t := s.find(roomID)
	if t == nil || t.roomName == name {
		s.mu.Unlock()
		return false
	}
	t.roomName = name
	s.mu.Unlock()

	s.notify(Change{Kind: RoomRenamed, RoomID: roomID})
	return true
}

func (s *State) ClearAll() {
	s.mu.Lock()
	s.tabs = nil
	s.active = ""
	s.mu.Unlock()

	s.notify(Change{Kind: TabsCleared})
}

// Active returns the active room id, or "" when no tab is open.
func (s *State) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *State) Has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t := s.find(roomID)
	return t != nil
}

func (s *State) Tab(roomID string) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t := s.find(roomID)
	if t == nil {
		return Tab{}, false
	}
	return s.snapshot(t), true
}

// Tabs returns every open tab in opening order.
func (s *State) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, s.snapshot(t))
	}
	return out
}

func (s *State) snapshot(t *tab) Tab {
	return Tab{
		RoomID:       t.roomID,
		RoomName:     t.roomName,
		Messages:     slices.Clone(t.messages),
		LastReadTime: t.lastRead,
		Active:       t.roomID == s.active,
	}
}
