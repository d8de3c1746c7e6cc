package chat

import (
	"sync"
	"time"
)

// RateLimiter caps message sends per user with a fixed window: the first
// send opens the window, the count resets when it elapses. Non-send
// events are never limited.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	senders map[int]*senderWindow

	now func() time.Time
}

type senderWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		senders: make(map[int]*senderWindow),
		now:     time.Now,
	}
}

// Allow records one send attempt. When the user is over budget it returns
// false plus the whole seconds (rounded up) until the window resets.
func (rl *RateLimiter) Allow(userID int) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	sw, exists := rl.senders[userID]
	if !exists {
		rl.senders[userID] = &senderWindow{count: 1, windowStart: now}
		return true, 0
	}

	// A fully elapsed window starts over.
	if now.Sub(sw.windowStart) >= rl.window {
		sw.count = 1
		sw.windowStart = now
		return true, 0
	}

	if sw.count >= rl.max {
		remaining := rl.window - now.Sub(sw.windowStart)
		retryAfter := int((remaining + time.Second - 1) / time.Second)
		return false, retryAfter
	}

	sw.count++
	return true, 0
}

// Prune drops windows idle for several multiples of the window so the map
// does not grow with every user who ever sent a message.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, sw := range rl.senders {
		if now.Sub(sw.windowStart) > 5*rl.window {
			delete(rl.senders, userID)
		}
	}
}
