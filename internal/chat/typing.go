package chat

import (
	"context"
	"sync"
	"time"

	"github.com/opsihab660/realtime-chat-sub001/internal/config"
)

type typingKey struct {
	ConversationID int
	UserID         int
}

type typingEntry struct {
	recipientID int
	lastTypedAt time.Time
}

// StoppedTyping names a conversation where a user's typing entry was
// removed and the counterparty who should hear about it.
type StoppedTyping struct {
	ConversationID int
	RecipientID    int
}

// typingWindows is the cache's tuning, converted once from config.
type typingWindows struct {
	throttle      time.Duration
	expireAfter   time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
}

// TypingCache is the in-memory table of who is typing where. Entries are
// purely ephemeral: nothing here ever touches the database, and a process
// restart forgets all of it. Expiry runs on one periodic sweep instead of
// a timer per entry, so a burst of typists costs one goroutine, not
// thousands.
type TypingCache struct {
	mu      sync.Mutex
	win     typingWindows
	entries map[typingKey]*typingEntry

	// expired is invoked outside the lock for every entry the sweep
	// removes.
	expired func(conversationID, userID, recipientID int)

	now func() time.Time
}

func NewTypingCache(cfg config.TypingConfig, expired func(conversationID, userID, recipientID int)) *TypingCache {
	return &TypingCache{
		win: typingWindows{
			throttle:      cfg.Throttle.Duration(),
			expireAfter:   cfg.ExpireAfter.Duration(),
			sweepInterval: cfg.SweepInterval.Duration(),
			staleAfter:    cfg.StaleAfter.Duration(),
		},
		entries: make(map[typingKey]*typingEntry),
		expired: expired,
		now:     time.Now,
	}
}

// Start records that userID is typing to recipientID in a conversation.
// It reports whether watchers should be notified: repeats inside the
// throttle window refresh the timestamp silently. Last write wins, so two
// devices racing on the same key simply keep the newest timestamp.
func (t *TypingCache) Start(conversationID, userID, recipientID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := typingKey{ConversationID: conversationID, UserID: userID}

	entry, exists := t.entries[key]
	if !exists {
		t.entries[key] = &typingEntry{recipientID: recipientID, lastTypedAt: now}
		return true
	}

	age := now.Sub(entry.lastTypedAt)
	entry.recipientID = recipientID
	entry.lastTypedAt = now

	// A leftover the sweep has not collected yet must not swallow the
	// notification for what is really a fresh typing burst.
	if age >= t.win.staleAfter {
		return true
	}
	return age >= t.win.throttle
}

// Stop removes the entry immediately. The second return reports whether
// there was anything to stop.
func (t *TypingCache) Stop(conversationID, userID int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{ConversationID: conversationID, UserID: userID}
	entry, exists := t.entries[key]
	if !exists {
		return 0, false
	}
	delete(t.entries, key)
	return entry.recipientID, true
}

// ClearUser removes every entry the user holds, across all conversations,
// and returns who must be told. Called on disconnect so nobody stays
// "typing…" after their socket died.
func (t *TypingCache) ClearUser(userID int) []StoppedTyping {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stopped []StoppedTyping
	for key, entry := range t.entries {
		if key.UserID != userID {
			continue
		}
		stopped = append(stopped, StoppedTyping{
			ConversationID: key.ConversationID,
			RecipientID:    entry.recipientID,
		})
		delete(t.entries, key)
	}
	return stopped
}

// Active lists users typing in a conversation right now. Entries past the
// staleness cutoff are skipped even if the sweep has not removed them yet.
func (t *TypingCache) Active(conversationID int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var ids []int
	for key, entry := range t.entries {
		if key.ConversationID != conversationID {
			continue
		}
		if now.Sub(entry.lastTypedAt) >= t.win.staleAfter {
			continue
		}
		ids = append(ids, key.UserID)
	}
	return ids
}

// Run drives the expiry sweep until the context is cancelled.
func (t *TypingCache) Run(ctx context.Context) {
	ticker := time.NewTicker(t.win.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *TypingCache) sweep() {
	t.mu.Lock()
	now := t.now()

	type expiredEntry struct {
		key         typingKey
		recipientID int
	}
	var removed []expiredEntry
	for key, entry := range t.entries {
		if now.Sub(entry.lastTypedAt) >= t.win.expireAfter {
			removed = append(removed, expiredEntry{key: key, recipientID: entry.recipientID})
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()

	// Notify after releasing the lock; the callback fans out frames.
	if t.expired == nil {
		return
	}
	for _, e := range removed {
		t.expired(e.key.ConversationID, e.key.UserID, e.recipientID)
	}
}
