package tabs

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"roomchat/internal/store/storetest"
)

func ids(tabs []Tab) []string {
	out := make([]string, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.RoomID)
	}
	return out
}

func TestOpenActivates(t *testing.T) {
	s := New()
	s.Open("1", "Indonesia")
	s.Open("2", "Malaysia")

	if s.Active() != "2" {
		t.Errorf("active = %q, want 2", s.Active())
	}
	s.Open("1", "ignored")
	if s.Active() != "1" {
		t.Errorf("reopening did not focus: active = %q", s.Active())
	}

	tabs := s.Tabs()
	if diff := cmp.Diff([]string{"1", "2"}, ids(tabs)); diff != "" {
		t.Errorf("tabs mismatch (-want +got):\n%s", diff)
	}
	if tabs[0].RoomName != "Indonesia" || !tabs[0].Active || tabs[1].Active {
		t.Errorf("tabs = %+v", tabs)
	}
}

func TestClose(t *testing.T) {
	tests := map[string]struct {
		open       []string
		active     string
		close      string
		wantTabs   []string
		wantActive string
		wantOK     bool
	}{
		"active promotes first remaining": {
			open: []string{"1", "2", "3"}, active: "3", close: "3",
			wantTabs: []string{"1", "2"}, wantActive: "1", wantOK: true,
		},
		"first active promotes next": {
			open: []string{"1", "2", "3"}, active: "1", close: "1",
			wantTabs: []string{"2", "3"}, wantActive: "2", wantOK: true,
		},
		"inactive keeps focus": {
			open: []string{"1", "2", "3"}, active: "3", close: "1",
			wantTabs: []string{"2", "3"}, wantActive: "3", wantOK: true,
		},
		"last tab clears focus": {
			open: []string{"1"}, active: "1", close: "1",
			wantTabs: []string{}, wantActive: "", wantOK: true,
		},
		"unknown room": {
			open: []string{"1"}, active: "1", close: "9",
			wantTabs: []string{"1"}, wantActive: "1", wantOK: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := New()
			for _, id := range tc.open {
				s.Open(id, "Room "+id)
			}
			s.Switch(tc.active)

			if ok := s.Close(tc.close); ok != tc.wantOK {
				t.Errorf("Close = %v, want %v", ok, tc.wantOK)
			}
			if diff := cmp.Diff(tc.wantTabs, ids(s.Tabs())); diff != "" {
				t.Errorf("tabs mismatch (-want +got):\n%s", diff)
			}
			if s.Active() != tc.wantActive {
				t.Errorf("active = %q, want %q", s.Active(), tc.wantActive)
			}
		})
	}
}

func TestSwitchUnknownIgnored(t *testing.T) {
	s := New()
	s.Open("1", "Indonesia")
	if s.Switch("9") {
		t.Error("Switch to an unopened room succeeded")
	}
	if s.Active() != "1" {
		t.Errorf("active = %q, want 1", s.Active())
	}
}

func TestAddMessageDeduplicates(t *testing.T) {
	clock := storetest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock.Now))
	s.Open("1", "Indonesia")

	clock.Advance(time.Minute)
	if !s.AddMessage("1", Message{ID: "a", Username: "Bob", Text: "halo"}) {
		t.Fatal("first message rejected")
	}
	if s.AddMessage("1", Message{ID: "a", Username: "Bob", Text: "halo"}) {
		t.Error("duplicate id accepted")
	}
	if s.AddMessage("2", Message{ID: "b", Text: "lost"}) {
		t.Error("message for an unopened room accepted")
	}

	tab, _ := s.Tab("1")
	if len(tab.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(tab.Messages))
	}
	if !tab.LastReadTime.Equal(clock.Now()) {
		t.Errorf("LastReadTime = %v, want %v", tab.LastReadTime, clock.Now())
	}
}

func TestBufferIsBounded(t *testing.T) {
	s := New(WithMaxMessages(3))
	s.Open("1", "Indonesia")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.AddMessage("1", Message{ID: id})
	}

	tab, _ := s.Tab("1")
	var got []string
	for _, m := range tab.Messages {
		got = append(got, m.ID)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, got); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
	if !s.AddMessage("1", Message{ID: "a"}) {
		t.Error("an id that left the buffer should be accepted again")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := New()
	s.Open("1", "Indonesia")
	s.AddMessage("1", Message{ID: "a", Text: "one"})

	tab, _ := s.Tab("1")
	tab.Messages[0].Text = "changed"

	again, _ := s.Tab("1")
	if again.Messages[0].Text != "one" {
		t.Error("snapshot shares the buffer")
	}
}

func TestUpdateRoomNameAndClear(t *testing.T) {
	s := New()
	s.Open("1", "1")
	var changes []ChangeKind
	s.OnChange(func(c Change) { changes = append(changes, c.Kind) })

	if !s.UpdateRoomName("1", "Indonesia") {
		t.Error("rename rejected")
	}
	if s.UpdateRoomName("1", "Indonesia") || s.UpdateRoomName("9", "x") {
		t.Error("no-op rename reported a change")
	}
	tab, _ := s.Tab("1")
	if tab.RoomName != "Indonesia" {
		t.Errorf("RoomName = %q", tab.RoomName)
	}

	s.ClearAll()
	if len(s.Tabs()) != 0 || s.Active() != "" || s.Has("1") {
		t.Error("ClearAll left state behind")
	}
	if diff := cmp.Diff([]ChangeKind{RoomRenamed, TabsCleared}, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}
