// Package auth issues and verifies bearer, activation and password-reset
// tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token purposes. A token is only accepted for the purpose it was issued for.
const (
	PurposeSession    = "session"
	PurposeActivation = "activation"
	PurposeReset      = "reset"
)

// bcryptCost matches the 10 salt rounds the stored hashes were created with.
const bcryptCost = 10

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims carried by every token.
type Claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenManager signs HS256 tokens with a shared secret.
type TokenManager struct {
	secret        []byte
	sessionTTL    time.Duration
	activationTTL time.Duration
	resetTTL      time.Duration
	now           func() time.Time
}

// NewTokenManager creates a token manager.
func NewTokenManager(secret string, sessionTTL, activationTTL, resetTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:        []byte(secret),
		sessionTTL:    sessionTTL,
		activationTTL: activationTTL,
		resetTTL:      resetTTL,
		now:           time.Now,
	}
}

// ActivationTTL is how long an activation link stays valid.
func (m *TokenManager) ActivationTTL() time.Duration { return m.activationTTL }

// ResetTTL is how long a password reset link stays valid.
func (m *TokenManager) ResetTTL() time.Duration { return m.resetTTL }

// IssueSession returns a bearer token for the user.
func (m *TokenManager) IssueSession(userID int64) (string, error) {
	return m.issue(PurposeSession, strconv.FormatInt(userID, 10), m.sessionTTL)
}

// IssueActivation returns an account activation token bound to the email.
func (m *TokenManager) IssueActivation(email string) (string, error) {
	return m.issue(PurposeActivation, email, m.activationTTL)
}

// IssueReset returns a password reset token for the user.
func (m *TokenManager) IssueReset(userID int64) (string, error) {
	return m.issue(PurposeReset, strconv.FormatInt(userID, 10), m.resetTTL)
}

func (m *TokenManager) issue(purpose, subject string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, expiry and purpose and returns the subject.
func (m *TokenManager) Parse(tokenString, purpose string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ParseUserID parses a token whose subject is a numeric user id.
func (m *TokenManager) ParseUserID(tokenString, purpose string) (int64, error) {
	sub, err := m.Parse(tokenString, purpose)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
