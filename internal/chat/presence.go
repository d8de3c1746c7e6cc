package chat

import (
	"context"
	"time"
)

// HandleConnect installs a freshly upgraded connection: the registry
// entry, the presence snapshot for the newcomer, and the online
// broadcast for everyone else.
func (e *Engine) HandleConnect(ctx context.Context, c *Client) {
	// Latest wins: a second device (or a reconnect racing its own dead
	// socket) replaces the previous connection, which is told to go away.
	prior := e.registry.Register(c.UserID, c)
	if prior != nil {
		prior.closeReplaced()
	} else {
		connectedClients.Inc()
	}

	e.logger.Info("🔌 user connected", "user_id", c.UserID, "username", c.Username)

	// Snapshot first so the client can paint its roster before any
	// incremental presence-changed arrives.
	statuses, err := e.store.UserStatuses(ctx)
	if err != nil {
		e.logger.Warn("presence snapshot failed", "user_id", c.UserID, "error", err)
	} else {
		for i := range statuses {
			statuses[i].Online = e.registry.Online(statuses[i].UserID)
		}
		c.enqueue(encodeEvent(EventAllUsersStatus, statuses))
	}

	// Same payload shape both directions: an online user was last seen
	// right now.
	now := e.now()
	e.broadcast(EventPresenceChanged, PresencePayload{
		UserID:   c.UserID,
		Online:   true,
		LastSeen: &now,
	}, c.UserID)
}

// HandleDisconnect runs when a read pump dies. For a connection that was
// already replaced it is a no-op: the user never went offline.
func (e *Engine) HandleDisconnect(c *Client) {
	if !e.registry.Unregister(c.UserID, c) {
		return
	}
	connectedClients.Dec()

	// The pump's request context is long gone, so give cleanup its own.
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	now := e.now()
	if err := e.store.SetLastSeen(ctx, c.UserID, now); err != nil {
		e.logger.Warn("last seen update failed", "user_id", c.UserID, "error", err)
	}

	// A vanished user must not stay "typing…" on anyone's screen.
	for _, s := range e.typing.ClearUser(c.UserID) {
		e.emitToUser(s.RecipientID, EventTypingStopped, TypingEventPayload{
			ConversationID: s.ConversationID,
			UserID:         c.UserID,
		})
	}

	lastSeen := now
	e.broadcast(EventPresenceChanged, PresencePayload{
		UserID:   c.UserID,
		Online:   false,
		LastSeen: &lastSeen,
	}, c.UserID)

	e.logger.Info("👋 user disconnected", "user_id", c.UserID, "username", c.Username,
		"connected_for", time.Since(c.ConnectedAt).Round(time.Second))
}
