package chat

import "time"

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
)

// Conversation is a direct thread between exactly two users. The pair is
// stored ordered (UserLow < UserHigh) so find-or-create is keyed by the
// unordered pair.
type Conversation struct {
	ID             int       `json:"id"`
	UserLow        int       `json:"-"`
	UserHigh       int       `json:"-"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *Conversation) HasParticipant(userID int) bool {
	return userID == c.UserLow || userID == c.UserHigh
}

// Peer returns the other participant.
func (c *Conversation) Peer(userID int) int {
	if userID == c.UserLow {
		return c.UserHigh
	}
	return c.UserLow
}

// ConversationSummary is a conversation plus the caller's per-member state,
// shaped for the conversation list endpoint.
type ConversationSummary struct {
	ID             int       `json:"id"`
	PeerID         int       `json:"peer_id"`
	PeerUsername   string    `json:"peer_username"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
	Archived       bool      `json:"archived"`
	Pinned         bool      `json:"pinned"`
	Muted          bool      `json:"muted"`
}

// Reaction is one user's emoji on a message. One reaction per user,
// last write wins.
type Reaction struct {
	UserID int    `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID int        `json:"conversation_id"`
	SenderID       int        `json:"sender_id"`
	RecipientID    int        `json:"recipient_id"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	ReplyTo        string     `json:"reply_to,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	ReadBy         []int      `json:"read_by,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	// OriginalContent is kept for audit only and never leaves the server.
	OriginalContent string     `json:"-"`
	IsDeleted       bool       `json:"is_deleted"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	DeletedBy       int        `json:"deleted_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Participant reports whether userID is the sender or the recipient.
func (m *Message) Participant(userID int) bool {
	return userID == m.SenderID || userID == m.RecipientID
}

// Peer returns the other participant.
func (m *Message) Peer(userID int) int {
	if userID == m.SenderID {
		return m.RecipientID
	}
	return m.SenderID
}

// Sanitized returns a copy safe to hand to clients: a tombstoned message
// keeps its ids and flags but the content is blanked.
func (m Message) Sanitized() Message {
	if m.IsDeleted {
		m.Content = ""
		m.Reactions = nil
	}
	return m
}

// UserStatus is one row of the presence snapshot sent on connect.
// Online comes from registry membership, LastSeen from the durable user
// record, Status is the user's profile status line.
type UserStatus struct {
	UserID   int        `json:"user_id"`
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Status   string     `json:"status,omitempty"`
}
