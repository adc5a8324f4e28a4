package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRegister_Validation(t *testing.T) {
	// Validation runs before any DB access, so no pool is needed.
	s := NewService(nil, "test-secret", time.Hour)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"EmptyUsername", "", "password"},
		{"EmptyPassword", "alice", ""},
		{"UsernameTooLong", string(long[:51]), "password"},
		{"PasswordTooLong", "alice", string(long)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Register(context.Background(), tt.username, tt.password); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUserFromToken(t *testing.T) {
	s := NewService(nil, "test-secret", time.Hour)

	t.Run("Valid", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		userID, err := s.UserFromToken(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if userID != 42 {
			t.Errorf("expected user 42, got %d", userID)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		if _, err := s.UserFromToken(token); err == nil {
			t.Error("expected error for token signed with another secret")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})
		if _, err := s.UserFromToken(token); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("MissingClaim", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		if _, err := s.UserFromToken(token); err == nil {
			t.Error("expected error for token without user_id")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := s.UserFromToken("not-a-token"); err == nil {
			t.Error("expected error for malformed token")
		}
	})
}
