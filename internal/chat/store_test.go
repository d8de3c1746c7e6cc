package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeStore is an in-memory Store so engine tests run without Postgres.
// It mirrors the repository's semantics closely enough for the pipelines:
// copies out, last-write-wins reactions, receipt idempotence.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int]*fakeUser
	blocks   map[[2]int]bool
	convs    map[int]*Conversation
	nextConv int
	members  map[[2]int]*fakeMember
	msgs     map[string]*Message
	order    []string

	failInsertMessage bool
	failTouch         bool
}

type fakeUser struct {
	username string
	status   string
	lastSeen *time.Time
}

type fakeMember struct {
	unread                  int
	archived, pinned, muted bool
}

func newFakeStore() *fakeStore {
	fs := &fakeStore{
		users:   make(map[int]*fakeUser),
		blocks:  make(map[[2]int]bool),
		convs:   make(map[int]*Conversation),
		members: make(map[[2]int]*fakeMember),
		msgs:    make(map[string]*Message),
	}
	fs.addUser(1, "alice")
	fs.addUser(2, "bob")
	fs.addUser(3, "carol")
	return fs
}

func (fs *fakeStore) addUser(id int, username string) {
	fs.users[id] = &fakeUser{username: username}
}

func (fs *fakeStore) setBlocked(blocker, blocked int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.blocks[[2]int{blocker, blocked}] = true
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.ReadBy = append([]int(nil), m.ReadBy...)
	return &out
}

// --------- Store implementation ---------

func (fs *fakeStore) UserExists(_ context.Context, userID int) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.users[userID]
	return ok, nil
}

func (fs *fakeStore) UserStatuses(_ context.Context) ([]UserStatus, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []UserStatus
	for id, u := range fs.users {
		out = append(out, UserStatus{
			UserID:   id,
			Username: u.username,
			Status:   u.status,
			LastSeen: u.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (fs *fakeStore) SetLastSeen(_ context.Context, userID int, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if u, ok := fs.users[userID]; ok {
		t := at
		u.lastSeen = &t
	}
	return nil
}

func (fs *fakeStore) SetUserStatus(_ context.Context, userID int, status string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if u, ok := fs.users[userID]; ok {
		u.status = status
	}
	return nil
}

func (fs *fakeStore) BlockedEither(_ context.Context, a, b int) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.blocks[[2]int{a, b}] || fs.blocks[[2]int{b, a}], nil
}

func (fs *fakeStore) FindConversation(_ context.Context, a, b int) (*Conversation, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	low, high := orderPair(a, b)
	for _, c := range fs.convs {
		if c.UserLow == low && c.UserHigh == high {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (fs *fakeStore) FindOrCreateConversation(_ context.Context, a, b int) (*Conversation, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	low, high := orderPair(a, b)
	for _, c := range fs.convs {
		if c.UserLow == low && c.UserHigh == high {
			out := *c
			return &out, nil
		}
	}
	fs.nextConv++
	c := &Conversation{
		ID:             fs.nextConv,
		UserLow:        low,
		UserHigh:       high,
		LastActivityAt: time.Now(),
		CreatedAt:      time.Now(),
	}
	fs.convs[c.ID] = c
	fs.members[[2]int{c.ID, low}] = &fakeMember{}
	fs.members[[2]int{c.ID, high}] = &fakeMember{}
	out := *c
	return &out, nil
}

func (fs *fakeStore) ConversationByID(_ context.Context, id int) (*Conversation, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	c, ok := fs.convs[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (fs *fakeStore) Conversations(_ context.Context, userID int) ([]ConversationSummary, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []ConversationSummary
	for _, c := range fs.convs {
		if !c.HasParticipant(userID) {
			continue
		}
		peer := c.Peer(userID)
		s := ConversationSummary{
			ID:             c.ID,
			PeerID:         peer,
			LastMessageID:  c.LastMessageID,
			LastActivityAt: c.LastActivityAt,
		}
		if u, ok := fs.users[peer]; ok {
			s.PeerUsername = u.username
		}
		if m, ok := fs.members[[2]int{c.ID, userID}]; ok {
			s.UnreadCount = m.unread
			s.Archived = m.archived
			s.Pinned = m.pinned
			s.Muted = m.muted
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (fs *fakeStore) TouchConversation(_ context.Context, conversationID int, messageID string, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.failTouch {
		return errors.New("touch failed")
	}
	if c, ok := fs.convs[conversationID]; ok {
		c.LastMessageID = messageID
		c.LastActivityAt = at
	}
	return nil
}

func (fs *fakeStore) IncrementUnread(_ context.Context, conversationID, userID int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	key := [2]int{conversationID, userID}
	if _, ok := fs.members[key]; !ok {
		fs.members[key] = &fakeMember{}
	}
	fs.members[key].unread++
	return nil
}

func (fs *fakeStore) ResetUnread(_ context.Context, conversationID, userID int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if m, ok := fs.members[[2]int{conversationID, userID}]; ok {
		m.unread = 0
	}
	return nil
}

func (fs *fakeStore) SetMemberFlag(_ context.Context, conversationID, userID int, flag string, value bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	switch flag {
	case "archived", "pinned", "muted":
	default:
		return fmt.Errorf("unknown membership flag %q", flag)
	}
	// Upsert, like the repository: the flag write materializes the row.
	key := [2]int{conversationID, userID}
	m, ok := fs.members[key]
	if !ok {
		m = &fakeMember{}
		fs.members[key] = m
	}
	switch flag {
	case "archived":
		m.archived = value
	case "pinned":
		m.pinned = value
	case "muted":
		m.muted = value
	}
	return nil
}

func (fs *fakeStore) InsertMessage(_ context.Context, msg *Message) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.failInsertMessage {
		return errors.New("insert failed")
	}
	fs.msgs[msg.ID] = cloneMessage(msg)
	fs.order = append(fs.order, msg.ID)
	return nil
}

func (fs *fakeStore) Message(_ context.Context, id string) (*Message, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[id]
	if !ok {
		return nil, nil
	}
	return cloneMessage(m), nil
}

func (fs *fakeStore) Messages(_ context.Context, conversationID int, before time.Time, limit int) ([]Message, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []Message
	for i := len(fs.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := fs.msgs[fs.order[i]]
		if m.ConversationID != conversationID || !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

func (fs *fakeStore) UnreadFrom(_ context.Context, conversationID, readerID int) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var ids []string
	for _, id := range fs.order {
		m := fs.msgs[id]
		if m.ConversationID != conversationID || m.RecipientID != readerID || m.IsDeleted {
			continue
		}
		read := false
		for _, r := range m.ReadBy {
			if r == readerID {
				read = true
				break
			}
		}
		if !read {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (fs *fakeStore) ApplyEdit(_ context.Context, id, content string, at time.Time) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	if !m.IsEdited {
		m.OriginalContent = m.Content
	}
	m.Content = content
	m.IsEdited = true
	t := at
	m.EditedAt = &t
	return true, nil
}

func (fs *fakeStore) ApplyDelete(_ context.Context, id string, by int, at time.Time) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	// Tombstone flags only; content and reactions stay in the record.
	m.IsDeleted = true
	t := at
	m.DeletedAt = &t
	m.DeletedBy = by
	return true, nil
}

func (fs *fakeStore) UpsertReaction(_ context.Context, messageID string, userID int, emoji string, _ time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[messageID]
	if !ok {
		return errors.New("message not found")
	}
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			return nil
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
	return nil
}

func (fs *fakeStore) InsertRead(_ context.Context, messageID string, userID int, _ time.Time) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[messageID]
	if !ok {
		return false, errors.New("message not found")
	}
	for _, r := range m.ReadBy {
		if r == userID {
			return false, nil
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true, nil
}

// --------- inspection helpers ---------

func (fs *fakeStore) messageCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.msgs)
}

func (fs *fakeStore) storedMessage(id string) *Message {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.msgs[id]
	if !ok {
		return nil
	}
	return cloneMessage(m)
}

func (fs *fakeStore) unreadCount(conversationID, userID int) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if m, ok := fs.members[[2]int{conversationID, userID}]; ok {
		return m.unread
	}
	return 0
}

func (fs *fakeStore) userLastSeen(userID int) *time.Time {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if u, ok := fs.users[userID]; ok {
		return u.lastSeen
	}
	return nil
}

func (fs *fakeStore) userStatus(userID int) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if u, ok := fs.users[userID]; ok {
		return u.status
	}
	return ""
}
