// Package auth verifies session credentials issued by the platform's
// identity service. Token issuance lives there; this subsystem only
// validates tokens signed with the shared secret and resolves them to
// a user identity.
package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/logger"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	// Initialized from the environment or explicitly via InitJWTKey once
	// configuration has been loaded.
	jwtKey = []byte(os.Getenv("JWT_SECRET"))
	log    = logger.New("auth")
)

// InitJWTKey sets the HMAC secret shared with the identity service.
func InitJWTKey(key []byte) {
	jwtKey = key
}

// SessionClaims are the claims the identity service places in tokens
type SessionClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// VerifyCredential validates an externally-issued token and resolves it
// to the authenticated user identity.
func VerifyCredential(tokenString string) (uuid.UUID, *SessionClaims, error) {
	if tokenString == "" {
		log.Warn("Empty credential presented")
		return uuid.Nil, nil, ErrInvalidToken
	}

	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Error("Unexpected signing method: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtKey, nil
	})

	if err != nil {
		log.Debug("Credential validation error: %v", err)
		return uuid.Nil, nil, err
	}

	if !token.Valid {
		return uuid.Nil, nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		log.Warn("Credential carries malformed user id: %v", err)
		return uuid.Nil, nil, ErrInvalidToken
	}

	return userID, claims, nil
}

// IssueToken signs a session token the way the identity service does.
// Used by tests and local tooling; production tokens come from outside.
func IssueToken(userID uuid.UUID, name string, ttl time.Duration) (string, time.Time, error) {
	if userID == uuid.Nil {
		return "", time.Time{}, errors.New("user ID cannot be empty")
	}

	expirationTime := time.Now().Add(ttl)

	claims := &SessionClaims{
		UserID: userID.String(),
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtKey)

	return tokenString, expirationTime, err
}
