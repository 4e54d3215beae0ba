package services

import (
	"fmt"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// SessionData is what a validated session token carries.
type SessionData struct {
	CredentialID string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

type sessionClaims struct {
	CredentialID string `json:"credentialID"`
	jwt.RegisteredClaims
}

// SessionService issues and validates self-contained HS256 session tokens
// bound to the credential that authenticated. Nothing is persisted
// server-side beyond the signing secret.
type SessionService struct {
	secret     []byte
	lifetime   time.Duration
	cookieName string
	secure     bool
}

func NewSessionService(cfg config.SessionConfig, secure bool) *SessionService {
	return &SessionService{
		secret:     []byte(cfg.Secret),
		lifetime:   cfg.Lifetime,
		cookieName: cfg.CookieName,
		secure:     secure,
	}
}

func (s *SessionService) Create(credentialID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.lifetime)
	claims := sessionClaims{
		CredentialID: credentialID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   credentialID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate returns nil for any invalid token. Malformed, tampered and expired
// tokens are indistinguishable to the caller, which treats all of them as
// "not authenticated".
func (s *SessionService) Validate(tokenString string) *SessionData {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.CredentialID == "" || claims.ExpiresAt == nil {
		return nil
	}

	session := &SessionData{
		CredentialID: claims.CredentialID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	return session
}

func (s *SessionService) CookieName() string {
	return s.cookieName
}

func (s *SessionService) Cookie(token string, expiresAt time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

// ClearCookie returns an expired cookie that removes the session client-side.
func (s *SessionService) ClearCookie() *fiber.Cookie {
	return &fiber.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}
