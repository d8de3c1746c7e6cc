package chat

import (
	"sync"
	"testing"
)

// connlessClient builds a Client with no websocket behind it. enqueue and
// the registry only touch the send channel, so these are safe in tests.
func connlessClient(userID int) *Client {
	return &Client{
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
	}
}

func TestRegistryLatestWins(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := connlessClient(7)
	if prior := r.Register(7, first); prior != nil {
		t.Fatalf("expected no prior connection, got %v", prior)
	}

	second := connlessClient(7)
	prior := r.Register(7, second)
	if prior != first {
		t.Fatalf("expected the first connection back as prior, got %v", prior)
	}

	// The registry must now resolve to the newest connection.
	got, ok := r.Lookup(7)
	if !ok || got != second {
		t.Fatal("expected lookup to return the replacement connection")
	}
	if r.Count() != 1 {
		t.Fatalf("expected exactly one entry, got %d", r.Count())
	}
}

func TestRegistryUnregisterChecksPointer(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	stale := connlessClient(3)
	r.Register(3, stale)
	current := connlessClient(3)
	r.Register(3, current)

	// The stale connection's teardown must not evict the replacement.
	if r.Unregister(3, stale) {
		t.Error("expected stale unregister to report false")
	}
	if !r.Online(3) {
		t.Error("expected user to stay online after stale unregister")
	}

	if !r.Unregister(3, current) {
		t.Error("expected current unregister to report true")
	}
	if r.Online(3) {
		t.Error("expected user offline after real unregister")
	}
}

func TestRegistrySendToAndBroadcast(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	a := connlessClient(1)
	b := connlessClient(2)
	c := connlessClient(3)
	r.Register(1, a)
	r.Register(2, b)
	r.Register(3, c)

	if !r.SendTo(2, []byte("hi")) {
		t.Fatal("expected send to online user to succeed")
	}
	if r.SendTo(99, []byte("hi")) {
		t.Fatal("expected send to unknown user to fail")
	}
	if len(b.send) != 1 {
		t.Fatalf("expected one frame queued for b, got %d", len(b.send))
	}

	r.Broadcast([]byte("all"), 1)
	if len(a.send) != 0 {
		t.Error("expected the excluded user to receive nothing")
	}
	if len(b.send) != 2 || len(c.send) != 1 {
		t.Errorf("expected b=2 c=1 frames, got b=%d c=%d", len(b.send), len(c.send))
	}
}

func TestRegistryOnlineIDs(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(5, connlessClient(5))
	r.Register(9, connlessClient(9))

	ids := r.OnlineIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 online ids, got %d", len(ids))
	}
	seen := map[int]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[5] || !seen[9] {
		t.Errorf("expected ids 5 and 9, got %v", ids)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			c := connlessClient(userID)
			r.Register(userID, c)
			r.Lookup(userID)
			r.Unregister(userID, c)
		}(i % 10)
	}
	wg.Wait()

	// Whatever interleaving happened, no user may hold more than one slot.
	if r.Count() > 10 {
		t.Fatalf("expected at most 10 entries, got %d", r.Count())
	}
}
