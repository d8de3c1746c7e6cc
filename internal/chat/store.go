package chat

import (
	"context"
	"time"
)

// Store is everything the engine needs from persistence. Keeping it an
// interface lets the router tests run against an in-memory fake instead
// of a live Postgres.
type Store interface {
	// Users
	UserExists(ctx context.Context, userID int) (bool, error)
	UserStatuses(ctx context.Context) ([]UserStatus, error)
	SetLastSeen(ctx context.Context, userID int, at time.Time) error
	SetUserStatus(ctx context.Context, userID int, status string) error
	BlockedEither(ctx context.Context, a, b int) (bool, error)

	// Conversations
	FindConversation(ctx context.Context, a, b int) (*Conversation, error)
	FindOrCreateConversation(ctx context.Context, a, b int) (*Conversation, error)
	ConversationByID(ctx context.Context, id int) (*Conversation, error)
	Conversations(ctx context.Context, userID int) ([]ConversationSummary, error)
	TouchConversation(ctx context.Context, conversationID int, messageID string, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID, userID int) error
	ResetUnread(ctx context.Context, conversationID, userID int) error
	SetMemberFlag(ctx context.Context, conversationID, userID int, flag string, value bool) error

	// Messages
	InsertMessage(ctx context.Context, msg *Message) error
	Message(ctx context.Context, id string) (*Message, error)
	Messages(ctx context.Context, conversationID int, before time.Time, limit int) ([]Message, error)
	UnreadFrom(ctx context.Context, conversationID, readerID int) ([]string, error)
	ApplyEdit(ctx context.Context, id, content string, at time.Time) (bool, error)
	ApplyDelete(ctx context.Context, id string, by int, at time.Time) (bool, error)
	UpsertReaction(ctx context.Context, messageID string, userID int, emoji string, at time.Time) error
	InsertRead(ctx context.Context, messageID string, userID int, at time.Time) (bool, error)
}
