package chat

import (
	"encoding/json"
	"time"
)

// Client → server events.
const (
	EventSendMessage   = "send-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventAddReaction   = "add-reaction"
	EventMarkRead      = "mark-messages-read"
	EventUpdateStatus  = "update-status"
)

// Server → client events.
const (
	EventAllUsersStatus  = "all-users-status"
	EventPresenceChanged = "presence-changed"
	EventMessageSent     = "message-sent"
	EventNewMessage      = "new-message"
	EventMessageEdited   = "message-edited"
	EventMessageDeleted  = "message-deleted"
	EventReactionAdded   = "reaction-added"
	EventMessageRead     = "message-read"
	EventTypingStarted   = "typing-started"
	EventTypingStopped   = "typing-stopped"
	EventMessageError    = "message-error"
	EventEditError       = "edit-error"
	EventDeleteError     = "delete-error"
)

// Envelope is the frame exchanged in both directions: an event name plus
// its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent wraps a payload into an envelope frame. Payloads are our own
// structs, so marshal failures are programming errors and yield nil.
func encodeEvent(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	frame, _ := json.Marshal(Envelope{Event: event, Data: data})
	return frame
}

// errorEventFor maps a client event onto its error event. Edits and
// deletes have dedicated channels; everything else reports on
// message-error.
func errorEventFor(clientEvent string) string {
	switch clientEvent {
	case EventEditMessage:
		return EventEditError
	case EventDeleteMessage:
		return EventDeleteError
	default:
		return EventMessageError
	}
}

// ---------------------------------------------
// ⚡ Inbound payloads
// ---------------------------------------------

// SendMessagePayload carries a new message. ConversationID is advisory:
// the conversation is always resolved from the sender/recipient pair.
type SendMessagePayload struct {
	RecipientID    int    `json:"recipient_id"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
	ConversationID int    `json:"conversation_id,omitempty"`
}

type EditMessagePayload struct {
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	ConversationID int    `json:"conversation_id,omitempty"`
}

type DeleteMessagePayload struct {
	MessageID      string `json:"message_id"`
	ConversationID int    `json:"conversation_id,omitempty"`
}

type TypingPayload struct {
	RecipientID    int `json:"recipient_id"`
	ConversationID int `json:"conversation_id,omitempty"`
}

type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkReadPayload accepts either an explicit id list or a counterpart
// user id meaning "everything unread from that user".
type MarkReadPayload struct {
	MessageIDs    []string `json:"message_ids,omitempty"`
	CounterpartID int      `json:"counterpart_id,omitempty"`
}

type UpdateStatusPayload struct {
	Status string `json:"status"`
}

// ---------------------------------------------
// ⚡ Outbound payloads
// ---------------------------------------------

type PresencePayload struct {
	UserID   int        `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// MessagePayload backs message-sent, new-message and message-edited.
type MessagePayload struct {
	Message        Message `json:"message"`
	ConversationID int     `json:"conversation_id"`
}

type MessageDeletedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type ReactionAddedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID int    `json:"conversation_id"`
	UserID         int    `json:"user_id"`
	Emoji          string `json:"emoji"`
}

type MessageReadPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	ReaderID       int       `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

type TypingEventPayload struct {
	ConversationID int `json:"conversation_id"`
	UserID         int `json:"user_id"`
}

type ErrorPayload struct {
	Error *Error `json:"error"`
}
