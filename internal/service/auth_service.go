package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates that the provided password is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for expired, malformed or foreign tokens.
	ErrInvalidToken = errors.New("invalid token")
)

const tokenSubject = "watchy"

// AuthService exchanges the configured password for short lived bearer tokens.
type AuthService interface {
	Enabled() bool
	IssueToken(password string) (string, time.Time, error)
	VerifyToken(token string) error
}

type authService struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthService returns a disabled service when no password hash is configured.
func NewAuthService(passwordHash, jwtSecret string, ttl time.Duration) (AuthService, error) {
	passwordHash = strings.TrimSpace(passwordHash)
	if passwordHash == "" {
		return &authService{now: time.Now}, nil
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("parse password hash: %w", err)
	}
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, errors.New("auth jwt secret is required when a password is set")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &authService{
		passwordHash: []byte(passwordHash),
		secret:       []byte(jwtSecret),
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

func (s *authService) Enabled() bool {
	return len(s.passwordHash) > 0
}

func (s *authService) IssueToken(password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, errors.New("authentication is not configured")
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *authService) VerifyToken(raw string) error {
	if !s.Enabled() {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != tokenSubject {
		return ErrInvalidToken
	}
	return nil
}
