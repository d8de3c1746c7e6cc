package user

import (
	"errors"
	"regexp"
	"time"
)

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	// Status is the free-form profile line ("out for lunch"), not presence.
	Status    string     `json:"status,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// RegisterRequest doubles as the login body; both carry exactly a
// username and a password.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// Validate applies the registration rules. Login only checks for empties,
// so existing accounts created under older rules can still sign in.
func (r *RegisterRequest) Validate() error {
	if !usernamePattern.MatchString(r.Username) {
		return errors.New("username must be 3-32 characters of letters, digits or underscore")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}
