package chat

import (
	"context"
	"encoding/json"
	"testing"
)

func TestConnectSnapshotAndBroadcast(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	e := newTestEngine(fs)
	b := connect(e, 2)

	a := connlessClient(1)
	a.engine = e
	e.HandleConnect(context.Background(), a)

	// The newcomer's first frame is the full roster with live flags.
	var statuses []UserStatus
	json.Unmarshal(expectEvent(t, a, EventAllUsersStatus), &statuses)
	online := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		online[s.UserID] = s.Online
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 roster rows, got %d", len(statuses))
	}
	if !online[1] || !online[2] || online[3] {
		t.Errorf("wrong online flags: %v", online)
	}

	// Everyone else hears the arrival; the newcomer does not hear their own.
	// The payload carries last-seen both ways, online users were seen now.
	var p PresencePayload
	json.Unmarshal(expectEvent(t, b, EventPresenceChanged), &p)
	if p.UserID != 1 || !p.Online || p.LastSeen == nil {
		t.Errorf("bad presence payload: %+v", p)
	}
	expectNoFrames(t, a)
}

func TestDisconnectPersistsLastSeen(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	e := newTestEngine(fs)
	a := connect(e, 1)
	b := connect(e, 2)
	ctx := context.Background()

	// Leave alice mid-typing so the disconnect has something to clear.
	mustSend(t, e, a, SendMessagePayload{RecipientID: 2, Content: "hi"})
	expectEvent(t, b, EventNewMessage)
	e.TypingStart(ctx, a, TypingPayload{RecipientID: 2})
	expectEvent(t, b, EventTypingStarted)

	e.HandleDisconnect(a)

	if fs.userLastSeen(1) == nil {
		t.Error("expected last seen recorded on disconnect")
	}
	if e.registry.Online(1) {
		t.Error("user should be gone from the registry")
	}

	// The counterpart sees the typing indicator drop, then the user go
	// offline with a last-seen timestamp.
	var stopped TypingEventPayload
	json.Unmarshal(expectEvent(t, b, EventTypingStopped), &stopped)
	if stopped.UserID != 1 {
		t.Errorf("bad typing-stopped payload: %+v", stopped)
	}
	var p PresencePayload
	json.Unmarshal(expectEvent(t, b, EventPresenceChanged), &p)
	if p.UserID != 1 || p.Online || p.LastSeen == nil {
		t.Errorf("bad offline payload: %+v", p)
	}
}

func TestDisconnectStaleConnectionKeepsOnline(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	e := newTestEngine(fs)
	connect(e, 1)
	b := connect(e, 2)

	// A pump for a connection that was already replaced must not touch
	// the live one's state.
	stale := connlessClient(1)
	stale.engine = e
	e.HandleDisconnect(stale)

	if !e.registry.Online(1) {
		t.Error("live connection must survive a stale disconnect")
	}
	if fs.userLastSeen(1) != nil {
		t.Error("stale disconnect must not record last seen")
	}
	expectNoFrames(t, b)
}
