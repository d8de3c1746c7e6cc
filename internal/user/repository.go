package user

import (
	"context"
	"database/sql"
	"errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := "INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Password).Scan(&id)
	if err != nil {
		return nil, err
	}

	user.ID = id
	return user, nil
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var lastSeen sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Status, &lastSeen, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return u, nil
}

const userColumns = "id, username, password, status, last_seen, created_at"

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("user not found")
	}
	return u, err
}

func (r *Repository) GetUserByID(ctx context.Context, id int) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("user not found")
	}
	return u, err
}

// SearchUsers matches usernames case-insensitively, excluding the
// searcher. Limited to 10 to keep it fast.
func (r *Repository) SearchUsers(ctx context.Context, query string, selfID int) ([]User, error) {
	q := `SELECT id, username, status, last_seen FROM users
		WHERE username ILIKE $1 AND id != $2
		ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u        User
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Status, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			u.LastSeen = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Block records that blocker no longer accepts messages from blocked.
// Blocking twice is fine.
func (r *Repository) Block(ctx context.Context, blockerID, blockedID int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`,
		blockerID, blockedID)
	return err
}

func (r *Repository) Unblock(ctx context.Context, blockerID, blockedID int) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2",
		blockerID, blockedID)
	return err
}

func (r *Repository) BlockedUsers(ctx context.Context, blockerID int) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.username FROM blocks b
		JOIN users u ON u.id = b.blocked_id
		WHERE b.blocker_id = $1
		ORDER BY u.username`,
		blockerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
