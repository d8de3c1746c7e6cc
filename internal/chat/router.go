package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsihab660/realtime-chat-sub001/internal/config"
)

// Engine owns all realtime state for one process: the connection
// registry, the typing cache and the send limiter. Everything durable
// goes through Store; everything cross-instance goes through the
// optional bridge.
type Engine struct {
	registry *Registry
	store    Store
	typing   *TypingCache
	limiter  *RateLimiter
	bridge   *Bridge
	logger   *slog.Logger

	editWindow      time.Duration
	maxMessageBytes int64

	now func() time.Time
}

func NewEngine(store Store, cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		registry:        NewRegistry(),
		store:           store,
		limiter:         NewRateLimiter(cfg.RateLimit.Window.Duration(), cfg.RateLimit.Max),
		logger:          logger,
		editWindow:      cfg.EditWindow.Duration(),
		maxMessageBytes: cfg.MaxMessageBytes.Int64(),
		now:             time.Now,
	}
	e.typing = NewTypingCache(cfg.Typing, e.typingExpired)
	return e
}

// SetBridge attaches the cross-instance event bridge. Must be called
// before Run; single-instance deployments simply never call it.
func (e *Engine) SetBridge(b *Bridge) {
	e.bridge = b
}

// Run drives the engine's background work until ctx is cancelled: the
// typing expiry sweep, the limiter prune, and the bridge subscription.
func (e *Engine) Run(ctx context.Context) {
	go e.typing.Run(ctx)
	if e.bridge != nil {
		go e.bridge.Run(ctx)
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.limiter.Prune()
		}
	}
}

// Registry exposes the connection table to the HTTP layer.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Typing exposes the typing table for read-side queries.
func (e *Engine) Typing() *TypingCache {
	return e.typing
}

// ---------------------------------------------
// ⚡ Event dispatch
// ---------------------------------------------

// Dispatch routes one inbound envelope to its handler. Failures go back
// to the sender on the matching error event; they never terminate the
// connection.
func (e *Engine) Dispatch(ctx context.Context, c *Client, env Envelope) {
	eventsTotal.WithLabelValues(env.Event).Inc()

	var err error
	switch env.Event {
	case EventSendMessage:
		var p SendMessagePayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.SendMessage(ctx, c, p)
		}
	case EventEditMessage:
		var p EditMessagePayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.EditMessage(ctx, c, p)
		}
	case EventDeleteMessage:
		var p DeleteMessagePayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.DeleteMessage(ctx, c, p)
		}
	case EventTypingStart:
		var p TypingPayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.TypingStart(ctx, c, p)
		}
	case EventTypingStop:
		var p TypingPayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.TypingStop(ctx, c, p)
		}
	case EventAddReaction:
		var p ReactionPayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.AddReaction(ctx, c, p)
		}
	case EventMarkRead:
		var p MarkReadPayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.MarkRead(ctx, c, p)
		}
	case EventUpdateStatus:
		var p UpdateStatusPayload
		if err = decodePayload(env.Data, &p); err == nil {
			err = e.UpdateStatus(ctx, c, p)
		}
	default:
		err = validationError("unknown event " + env.Event)
	}

	if err != nil {
		e.fail(c, env.Event, err)
	}
}

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return validationError("missing payload")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return validationError("malformed payload")
	}
	return nil
}

// fail reports an operation failure back to the offending connection.
func (e *Engine) fail(c *Client, clientEvent string, err error) {
	cerr := asError(err)
	eventErrors.WithLabelValues(cerr.Code).Inc()
	if cerr.Code == CodePersistence {
		e.logger.Error("event failed on storage", "event", clientEvent, "user_id", c.UserID, "error", err)
	}
	c.enqueue(encodeEvent(errorEventFor(clientEvent), ErrorPayload{Error: cerr}))
}

// emitToUser delivers one event to one user: locally when this instance
// holds their socket, via the bridge otherwise.
func (e *Engine) emitToUser(userID int, event string, payload any) {
	if c, ok := e.registry.Lookup(userID); ok {
		c.enqueue(encodeEvent(event, payload))
		return
	}
	if e.bridge != nil {
		e.bridge.PublishToUser(userID, event, payload)
	}
}

// broadcast delivers an event to every connected user except one, on
// this instance and, through the bridge, on all the others.
func (e *Engine) broadcast(event string, payload any, except int) {
	e.registry.Broadcast(encodeEvent(event, payload), except)
	if e.bridge != nil {
		e.bridge.PublishToAll(event, payload, except)
	}
}

// ---------------------------------------------
// 💬 Send
// ---------------------------------------------

func (e *Engine) SendMessage(ctx context.Context, c *Client, p SendMessagePayload) error {
	// 1. Rate limit before any validation work.
	allowed, retryAfter := e.limiter.Allow(c.UserID)
	if !allowed {
		return rateLimitedError(retryAfter)
	}

	// 2. Validate the request shape.
	if p.RecipientID <= 0 {
		return validationError("recipient_id is required")
	}
	if p.RecipientID == c.UserID {
		return validationError("cannot message yourself")
	}
	msgType := p.Type
	if msgType == "" {
		msgType = TypeText
	}
	switch msgType {
	case TypeText, TypeImage, TypeFile:
	default:
		return validationError("type must be text, image or file")
	}

	// 3. The recipient must exist and neither side may have blocked the
	// other.
	exists, err := e.store.UserExists(ctx, p.RecipientID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRecipientNotFound
	}
	blocked, err := e.store.BlockedEither(ctx, c.UserID, p.RecipientID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}

	// 4. Resolve the conversation for the pair, creating it on first
	// contact.
	conv, err := e.store.FindOrCreateConversation(ctx, c.UserID, p.RecipientID)
	if err != nil {
		return err
	}

	// 5. Content is checked only once the pair can talk at all: an empty
	// send to an unknown or blocked recipient reports that problem, not
	// the missing content.
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return ErrContentRequired
	}

	// 6. A reply must point at a message inside this same conversation.
	if p.ReplyTo != "" {
		parent, err := e.store.Message(ctx, p.ReplyTo)
		if err != nil {
			return err
		}
		if parent == nil || parent.ConversationID != conv.ID {
			return ErrInvalidReply
		}
	}

	// 7. Persist. A storage failure here is fatal for the event: nothing
	// was sent, nothing is fanned out.
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       c.UserID,
		RecipientID:    p.RecipientID,
		Content:        content,
		Type:           msgType,
		ReplyTo:        p.ReplyTo,
		CreatedAt:      e.now(),
	}
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	messagesPersisted.Inc()

	// 8. Bookkeeping after the insert is best-effort: the message is
	// durable, so a failed counter bump only logs.
	if err := e.store.TouchConversation(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		e.logger.Warn("conversation touch failed", "conversation_id", conv.ID, "error", err)
	}
	if err := e.store.IncrementUnread(ctx, conv.ID, p.RecipientID); err != nil {
		e.logger.Warn("unread increment failed", "conversation_id", conv.ID, "error", err)
	}

	// 9. Ack the sender, then deliver to the recipient wherever they are.
	// An offline recipient just reads it from history later.
	out := MessagePayload{Message: *msg, ConversationID: conv.ID}
	c.enqueue(encodeEvent(EventMessageSent, out))
	e.emitToUser(p.RecipientID, EventNewMessage, out)
	return nil
}

// ---------------------------------------------
// ✏️ Edit
// ---------------------------------------------

func (e *Engine) EditMessage(ctx context.Context, c *Client, p EditMessagePayload) error {
	if p.MessageID == "" {
		return validationError("message_id is required")
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return ErrContentRequired
	}

	msg, err := e.store.Message(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	if msg.SenderID != c.UserID {
		return ErrForbidden
	}
	if msg.IsDeleted {
		return ErrAlreadyDeleted
	}
	if msg.Type != TypeText {
		return ErrUnsupportedType
	}
	now := e.now()
	if now.Sub(msg.CreatedAt) > e.editWindow {
		return ErrEditWindowExpired
	}
	if content == msg.Content {
		return ErrNoChange
	}

	edited, err := e.store.ApplyEdit(ctx, msg.ID, content, now)
	if err != nil {
		return err
	}
	if !edited {
		// A concurrent delete slipped in between our read and the update.
		return ErrAlreadyDeleted
	}

	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now

	out := MessagePayload{Message: *msg, ConversationID: msg.ConversationID}
	c.enqueue(encodeEvent(EventMessageEdited, out))
	e.emitToUser(msg.Peer(c.UserID), EventMessageEdited, out)
	return nil
}

// ---------------------------------------------
// 🗑️ Delete
// ---------------------------------------------

func (e *Engine) DeleteMessage(ctx context.Context, c *Client, p DeleteMessagePayload) error {
	if p.MessageID == "" {
		return validationError("message_id is required")
	}

	msg, err := e.store.Message(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	if msg.SenderID != c.UserID {
		return ErrForbidden
	}
	if msg.IsDeleted {
		return ErrAlreadyDeleted
	}

	now := e.now()
	deleted, err := e.store.ApplyDelete(ctx, msg.ID, c.UserID, now)
	if err != nil {
		return err
	}
	if !deleted {
		// Someone else's delete landed first; their tombstone stands.
		return ErrAlreadyDeleted
	}

	out := MessageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedAt:      now,
	}
	c.enqueue(encodeEvent(EventMessageDeleted, out))
	e.emitToUser(msg.Peer(c.UserID), EventMessageDeleted, out)
	return nil
}

// ---------------------------------------------
// 😀 Reactions
// ---------------------------------------------

func (e *Engine) AddReaction(ctx context.Context, c *Client, p ReactionPayload) error {
	if p.MessageID == "" {
		return validationError("message_id is required")
	}
	if strings.TrimSpace(p.Emoji) == "" {
		return validationError("emoji is required")
	}

	msg, err := e.store.Message(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	if !msg.Participant(c.UserID) {
		return ErrForbidden
	}
	if msg.IsDeleted {
		return ErrAlreadyDeleted
	}

	if err := e.store.UpsertReaction(ctx, msg.ID, c.UserID, p.Emoji, e.now()); err != nil {
		return err
	}

	out := ReactionAddedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         c.UserID,
		Emoji:          p.Emoji,
	}
	c.enqueue(encodeEvent(EventReactionAdded, out))
	e.emitToUser(msg.Peer(c.UserID), EventReactionAdded, out)
	return nil
}

// ---------------------------------------------
// ✅ Read receipts
// ---------------------------------------------

func (e *Engine) MarkRead(ctx context.Context, c *Client, p MarkReadPayload) error {
	if len(p.MessageIDs) == 0 && p.CounterpartID <= 0 {
		return validationError("message_ids or counterpart_id is required")
	}

	ids := p.MessageIDs
	if len(ids) == 0 {
		// Counterpart form: everything still unread from that user.
		conv, err := e.store.FindConversation(ctx, c.UserID, p.CounterpartID)
		if err != nil {
			return err
		}
		if conv == nil {
			return nil // never talked, nothing to mark
		}
		if ids, err = e.store.UnreadFrom(ctx, conv.ID, c.UserID); err != nil {
			return err
		}
		if len(ids) == 0 {
			// Still reset: the counter may disagree with the receipts.
			return e.store.ResetUnread(ctx, conv.ID, c.UserID)
		}
	}

	now := e.now()
	touched := make(map[int]bool)
	for _, id := range ids {
		msg, err := e.store.Message(ctx, id)
		if err != nil {
			return err
		}
		// Ids that are unknown, deleted, or not addressed to the caller
		// are skipped rather than failing the whole batch.
		if msg == nil || msg.IsDeleted || msg.RecipientID != c.UserID {
			continue
		}

		inserted, err := e.store.InsertRead(ctx, msg.ID, c.UserID, now)
		if err != nil {
			return err
		}
		touched[msg.ConversationID] = true
		if !inserted {
			continue // receipt already existed, nothing new to announce
		}

		e.emitToUser(msg.SenderID, EventMessageRead, MessageReadPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReaderID:       c.UserID,
			ReadAt:         now,
		})
	}

	for conversationID := range touched {
		if err := e.store.ResetUnread(ctx, conversationID, c.UserID); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------
// ⌨️ Typing
// ---------------------------------------------

// TypingStart marks the sender as typing toward a recipient. Typing never
// creates conversations and never hits an error path: with no prior
// conversation, or a block in either direction, it quietly does nothing.
func (e *Engine) TypingStart(ctx context.Context, c *Client, p TypingPayload) error {
	if p.RecipientID <= 0 || p.RecipientID == c.UserID {
		return nil
	}
	conv, err := e.store.FindConversation(ctx, c.UserID, p.RecipientID)
	if err != nil || conv == nil {
		return nil
	}
	if blocked, err := e.store.BlockedEither(ctx, c.UserID, p.RecipientID); err != nil || blocked {
		return nil
	}

	if e.typing.Start(conv.ID, c.UserID, p.RecipientID) {
		e.emitToUser(p.RecipientID, EventTypingStarted, TypingEventPayload{
			ConversationID: conv.ID,
			UserID:         c.UserID,
		})
	}
	return nil
}

func (e *Engine) TypingStop(ctx context.Context, c *Client, p TypingPayload) error {
	if p.RecipientID <= 0 {
		return nil
	}
	conv, err := e.store.FindConversation(ctx, c.UserID, p.RecipientID)
	if err != nil || conv == nil {
		return nil
	}

	if recipientID, ok := e.typing.Stop(conv.ID, c.UserID); ok {
		e.emitToUser(recipientID, EventTypingStopped, TypingEventPayload{
			ConversationID: conv.ID,
			UserID:         c.UserID,
		})
	}
	return nil
}

// typingExpired is the sweep callback: the typist went quiet without
// sending typing-stop.
func (e *Engine) typingExpired(conversationID, userID, recipientID int) {
	e.emitToUser(recipientID, EventTypingStopped, TypingEventPayload{
		ConversationID: conversationID,
		UserID:         userID,
	})
}

// ---------------------------------------------
// 🙋 Profile status
// ---------------------------------------------

func (e *Engine) UpdateStatus(ctx context.Context, c *Client, p UpdateStatusPayload) error {
	status := strings.TrimSpace(p.Status)
	if len(status) > 120 {
		return validationError("status is too long")
	}
	return e.store.SetUserStatus(ctx, c.UserID, status)
}
