package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthService_RoundTrip(t *testing.T) {
	s := NewAuthService("s3cret", time.Hour)

	token, err := s.IssueToken(Identity{UserID: "u1", Email: "a@b.c", Role: "admin", Provider: "google"})
	if err != nil {
		t.Fatal(err)
	}

	id, err := s.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u1" || id.Email != "a@b.c" || id.Role != "admin" || id.Provider != "google" {
		t.Errorf("identity = %+v", id)
	}
}

func TestAuthService_Rejects(t *testing.T) {
	s := NewAuthService("s3cret", time.Hour)
	other := NewAuthService("different", time.Hour)

	foreign, _ := other.IssueToken(Identity{UserID: "u1"})

	expiredSvc := NewAuthService("s3cret", time.Minute)
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredSvc.IssueToken(Identity{UserID: "u1"})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"garbage":      "not.a.jwt",
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     unsigned,
	} {
		if _, err := s.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestAuthService_Disabled(t *testing.T) {
	s := NewAuthService("", 0)
	if s.Enabled() {
		t.Error("service without secret should be disabled")
	}
	if _, err := s.IssueToken(Identity{UserID: "u1"}); err == nil {
		t.Error("issuing without a secret should fail")
	}
}
