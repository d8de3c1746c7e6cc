package user

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-0123456789"

// mintToken signs claims directly so token validation can be exercised
// without a database behind the service.
func mintToken(t *testing.T, secret string, id int, username string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "realtime-chat",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	ss, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	return ss
}

func TestValidateTokenRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewService(nil, testSecret)
	ss := mintToken(t, testSecret, 42, "douglas", time.Now().Add(time.Hour))

	id, username, err := s.ValidateToken(ss)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if id != 42 || username != "douglas" {
		t.Errorf("expected 42/douglas, got %d/%q", id, username)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	t.Parallel()
	s := NewService(nil, testSecret)
	ss := mintToken(t, testSecret, 42, "douglas", time.Now().Add(-time.Minute))

	if _, _, err := s.ValidateToken(ss); err == nil {
		t.Error("expected expired token to fail")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	s := NewService(nil, testSecret)
	ss := mintToken(t, "some-other-secret", 42, "douglas", time.Now().Add(time.Hour))

	if _, _, err := s.ValidateToken(ss); err == nil {
		t.Error("expected forged token to fail")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	t.Parallel()
	s := NewService(nil, testSecret)

	for _, ss := range []string{"", "not-a-jwt", "aaaa.bbbb.cccc"} {
		if _, _, err := s.ValidateToken(ss); err == nil {
			t.Errorf("expected %q to fail validation", ss)
		}
	}
}

func TestRegisterRequestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{"valid", RegisterRequest{Username: "alice_99", Password: "hunter2hunter2"}, false},
		{"minimal username", RegisterRequest{Username: "bob", Password: "password1"}, false},
		{"username too short", RegisterRequest{Username: "ab", Password: "password1"}, true},
		{"username too long", RegisterRequest{Username: "abcdefghijklmnopqrstuvwxyz0123456", Password: "password1"}, true},
		{"username with spaces", RegisterRequest{Username: "al ice", Password: "password1"}, true},
		{"username with symbols", RegisterRequest{Username: "alice!", Password: "password1"}, true},
		{"password too short", RegisterRequest{Username: "alice", Password: "short"}, true},
		{"empty", RegisterRequest{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
