package chat

import "sync"

// Registry tracks the single live connection per user. A fresh connect
// replaces the previous one (latest wins); the replaced handle is returned
// to the caller so it can be closed politely.
type Registry struct {
	mu      sync.RWMutex
	clients map[int]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[int]*Client)}
}

// Register installs c as the user's connection and returns the handle it
// replaced, if any.
func (r *Registry) Register(userID int, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prior := r.clients[userID]
	r.clients[userID] = c
	return prior
}

// Unregister removes the user's entry only if it still points at c. A
// stale handle (already replaced by a reconnect) leaves the registry
// untouched and reports false.
func (r *Registry) Unregister(userID int, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[userID] != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

func (r *Registry) Lookup(userID int) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

func (r *Registry) Online(userID int) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// OnlineIDs returns the ids of every connected user.
func (r *Registry) OnlineIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// SendTo enqueues a frame for one user. Returns false when the user is
// offline or their buffer is full.
func (r *Registry) SendTo(userID int, frame []byte) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return c.enqueue(frame)
}

// Broadcast enqueues a frame for every connected user except the one
// named by except (0 means no exception).
func (r *Registry) Broadcast(frame []byte, except int) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}
