package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is what a session token carries
type Identity struct {
	UserID   string
	Email    string
	Role     string
	Provider string
}

type AuthService struct {
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	now       func() time.Time
}

func NewAuthService(secret string, expiry time.Duration) *AuthService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		jwtExpiry: expiry,
		now:       time.Now,
	}
}

// Enabled is false when no secret is configured
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// Issues a signed session token for the identity
func (s *AuthService) IssueToken(id Identity) (string, error) {
	if !s.Enabled() {
		return "", errors.New("JWT_SECRET is not configured")
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  id.UserID,
		"email":    id.Email,
		"role":     id.Role,
		"provider": id.Provider,
		"exp":      now.Add(s.jwtExpiry).Unix(),
		"iat":      now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validates a JWT token and returns the identity it carries
func (s *AuthService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}

	return &Identity{
		UserID:   str("user_id"),
		Email:    str("email"),
		Role:     str("role"),
		Provider: str("provider"),
	}, nil
}
