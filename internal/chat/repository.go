package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the Postgres implementation of Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// --------- Users ---------

func (r *Repository) UserExists(ctx context.Context, userID int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists)
	return exists, err
}

func (r *Repository) UserStatuses(ctx context.Context) ([]UserStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, status, last_seen FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []UserStatus
	for rows.Next() {
		var (
			s        UserStatus
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&s.UserID, &s.Username, &s.Status, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			s.LastSeen = &t
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func (r *Repository) SetLastSeen(ctx context.Context, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET last_seen = $2 WHERE id = $1", userID, at)
	return err
}

func (r *Repository) SetUserStatus(ctx context.Context, userID int, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET status = $2 WHERE id = $1", userID, status)
	return err
}

func (r *Repository) BlockedEither(ctx context.Context, a, b int) (bool, error) {
	var blocked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)`, a, b).Scan(&blocked)
	return blocked, err
}

// --------- Conversations ---------

// orderPair returns the two user ids in ascending order, which is how the
// conversations table keys a pair.
func orderPair(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

const conversationColumns = "id, user_low, user_high, last_message_id, last_activity_at, created_at"

func scanConversation(row *sql.Row) (*Conversation, error) {
	var (
		c             Conversation
		lastMessageID sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserLow, &c.UserHigh, &lastMessageID, &c.LastActivityAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.LastMessageID = lastMessageID.String
	return &c, nil
}

// FindConversation looks the pair's conversation up without creating one.
// Returns nil when the two users have never talked.
func (r *Repository) FindConversation(ctx context.Context, a, b int) (*Conversation, error) {
	low, high := orderPair(a, b)
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_low = $1 AND user_high = $2",
		low, high))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindOrCreateConversation resolves the pair's conversation, creating it
// (plus both membership rows) on first contact. The unique (user_low,
// user_high) index makes two racing senders converge on one row: the
// loser's insert is a no-op and the follow-up select sees the winner's.
func (r *Repository) FindOrCreateConversation(ctx context.Context, a, b int) (*Conversation, error) {
	low, high := orderPair(a, b)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (user_low, user_high, last_activity_at, created_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_low, user_high) DO NOTHING`,
		low, high, now)
	if err != nil {
		return nil, err
	}

	c, err := scanConversation(tx.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_low = $1 AND user_high = $2",
		low, high))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		c.ID, low, high)
	if err != nil {
		return nil, err
	}

	return c, tx.Commit()
}

func (r *Repository) ConversationByID(ctx context.Context, id int) (*Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *Repository) Conversations(ctx context.Context, userID int) ([]ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id,
		       CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END,
		       u.username,
		       c.last_message_id,
		       c.last_activity_at,
		       cm.unread_count, cm.archived, cm.pinned, cm.muted
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
		JOIN users u ON u.id = CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END
		ORDER BY cm.pinned DESC, c.last_activity_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var (
			s             ConversationSummary
			lastMessageID sql.NullString
		)
		err := rows.Scan(&s.ID, &s.PeerID, &s.PeerUsername, &lastMessageID,
			&s.LastActivityAt, &s.UnreadCount, &s.Archived, &s.Pinned, &s.Muted)
		if err != nil {
			return nil, err
		}
		s.LastMessageID = lastMessageID.String
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *Repository) TouchConversation(ctx context.Context, conversationID int, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = $2, last_activity_at = $3 WHERE id = $1",
		conversationID, messageID, at)
	return err
}

// IncrementUnread bumps the member's counter, creating the row when an
// older conversation predates its membership rows.
func (r *Repository) IncrementUnread(ctx context.Context, conversationID, userID int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, unread_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread_count = conversation_members.unread_count + 1`,
		conversationID, userID)
	return err
}

// ResetUnread zeroes the counter. Resetting an absent row is a no-op, so
// callers never need to check membership first.
func (r *Repository) ResetUnread(ctx context.Context, conversationID, userID int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2",
		conversationID, userID)
	return err
}

// SetMemberFlag upserts one per-member flag, materializing the membership
// row when it does not exist yet. The column name is interpolated into the
// query, so it must pass the whitelist first.
func (r *Repository) SetMemberFlag(ctx context.Context, conversationID, userID int, flag string, value bool) error {
	switch flag {
	case "archived", "pinned", "muted":
	default:
		return fmt.Errorf("unknown membership flag %q", flag)
	}
	query := fmt.Sprintf(`
		INSERT INTO conversation_members (conversation_id, user_id, %s)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET %s = EXCLUDED.%s`,
		flag, flag, flag)
	_, err := r.db.ExecContext(ctx, query, conversationID, userID, value)
	return err
}

// --------- Messages ---------

const messageColumns = `id, conversation_id, sender_id, recipient_id, content, type,
	reply_to, is_edited, edited_at, original_content,
	is_deleted, deleted_at, deleted_by, created_at`

type messageScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row messageScanner) (*Message, error) {
	var (
		m         Message
		replyTo   sql.NullString
		editedAt  sql.NullTime
		original  sql.NullString // NULL until the first edit
		deletedAt sql.NullTime
		deletedBy sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
		&m.Content, &m.Type, &replyTo, &m.IsEdited, &editedAt, &original,
		&m.IsDeleted, &deletedAt, &deletedBy, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ReplyTo = replyTo.String
	m.OriginalContent = original.String
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	m.DeletedBy = int(deletedBy.Int64)
	return &m, nil
}

func (r *Repository) InsertMessage(ctx context.Context, msg *Message) error {
	var replyTo any
	if msg.ReplyTo != "" {
		replyTo = msg.ReplyTo
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, type, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID,
		msg.Content, msg.Type, replyTo, msg.CreatedAt)
	return err
}

func (r *Repository) Message(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if m.Reactions, err = r.messageReactions(ctx, id); err != nil {
		return nil, err
	}
	if m.ReadBy, err = r.messageReaders(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) messageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id, emoji FROM message_reactions WHERE message_id = $1 ORDER BY reacted_at",
		messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var re Reaction
		if err := rows.Scan(&re.UserID, &re.Emoji); err != nil {
			return nil, err
		}
		reactions = append(reactions, re)
	}
	return reactions, rows.Err()
}

func (r *Repository) messageReaders(ctx context.Context, messageID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM message_reads WHERE message_id = $1 ORDER BY read_at", messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		readers = append(readers, id)
	}
	return readers, rows.Err()
}

// Messages returns one history page, newest first, strictly older than
// before. Reactions and receipts are attached in two queries keyed on the
// page's time range rather than one pair of queries per message.
func (r *Repository) Messages(ctx context.Context, conversationID int, before time.Time, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`,
		conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return page, nil
	}

	oldest := page[len(page)-1].CreatedAt
	newest := page[0].CreatedAt
	if err := r.attachPageExtras(ctx, conversationID, oldest, newest, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *Repository) attachPageExtras(ctx context.Context, conversationID int, oldest, newest time.Time, page []Message) error {
	byID := make(map[string]*Message, len(page))
	for i := range page {
		byID[page[i].ID] = &page[i]
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT re.message_id, re.user_id, re.emoji
		FROM message_reactions re
		JOIN messages m ON m.id = re.message_id
		WHERE m.conversation_id = $1 AND m.created_at BETWEEN $2 AND $3
		ORDER BY re.reacted_at`,
		conversationID, oldest, newest)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			messageID string
			re        Reaction
		)
		if err := rows.Scan(&messageID, &re.UserID, &re.Emoji); err != nil {
			return err
		}
		if m, ok := byID[messageID]; ok {
			m.Reactions = append(m.Reactions, re)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	readRows, err := r.db.QueryContext(ctx, `
		SELECT rd.message_id, rd.user_id
		FROM message_reads rd
		JOIN messages m ON m.id = rd.message_id
		WHERE m.conversation_id = $1 AND m.created_at BETWEEN $2 AND $3
		ORDER BY rd.read_at`,
		conversationID, oldest, newest)
	if err != nil {
		return err
	}
	defer readRows.Close()
	for readRows.Next() {
		var (
			messageID string
			userID    int
		)
		if err := readRows.Scan(&messageID, &userID); err != nil {
			return err
		}
		if m, ok := byID[messageID]; ok {
			m.ReadBy = append(m.ReadBy, userID)
		}
	}
	return readRows.Err()
}

// UnreadFrom lists ids of live messages addressed to readerID in the
// conversation that carry no read receipt yet, oldest first.
func (r *Repository) UnreadFrom(ctx context.Context, conversationID, readerID int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id FROM messages m
		WHERE m.conversation_id = $1 AND m.recipient_id = $2 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads rd WHERE rd.message_id = m.id AND rd.user_id = $2
		  )
		ORDER BY m.created_at`,
		conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyEdit rewrites the content of a live message. The first edit stashes
// the original content; later edits keep the original, not the previous
// revision. Reports false when the message is already deleted (a racing
// delete wins).
func (r *Repository) ApplyEdit(ctx context.Context, id, content string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = $2, is_edited = TRUE, edited_at = $3,
		    original_content = CASE WHEN is_edited THEN original_content ELSE content END
		WHERE id = $1 AND is_deleted = FALSE`,
		id, content, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApplyDelete tombstones a message. Only the deletion marker and its
// attribution change: the row keeps its content and reactions, and the
// presentation layer masks them. Reports false when another delete got
// there first, which keeps the first tombstone's timestamp authoritative.
func (r *Repository) ApplyDelete(ctx context.Context, id string, by int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3
		WHERE id = $1 AND is_deleted = FALSE`,
		id, at, by)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertReaction stores one reaction per user per message; reacting again
// replaces the emoji (last write wins).
func (r *Repository) UpsertReaction(ctx context.Context, messageID string, userID int, emoji string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET emoji = EXCLUDED.emoji, reacted_at = EXCLUDED.reacted_at`,
		messageID, userID, emoji, at)
	return err
}

// InsertRead records a read receipt once; reporting false means the
// receipt already existed and no broadcast is owed.
func (r *Repository) InsertRead(ctx context.Context, messageID string, userID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
