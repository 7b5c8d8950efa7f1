package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Token actions embedded in emailed links.
const (
	ActionApprove  = "approve"
	ActionFollow   = "follow"
	ActionUnfollow = "unfollow"
)

// Approval target kinds.
const (
	KindGroup = "group"
	KindPost  = "post"
)

// ActionClaims is the payload of an emailed action link. Approve carries
// Kind+TargetID (the draft version row to publish), follow carries the
// membership to create, unfollow the membership row to delete.
type ActionClaims struct {
	Action   string `json:"action"`
	Kind     string `json:"kind,omitempty"`
	TargetID int    `json:"target_id,omitempty"`
	UserID   int    `json:"user_id,omitempty"`
	GroupID  int    `json:"group_id,omitempty"`
	PostID   int    `json:"post_id,omitempty"`
	Role     string `json:"role,omitempty"`
	MemberID int    `json:"member_id,omitempty"`
	jwt.RegisteredClaims
}

// SessionClaims is the payload of a signed-in session token.
type SessionClaims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies the JWTs used in action links and
// sessions. HS256 only.
type TokenManager struct {
	secretKey       []byte
	actionDuration  time.Duration
	sessionDuration time.Duration
}

func NewTokenManager(secretKey string, actionDuration, sessionDuration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:       []byte(secretKey),
		actionDuration:  actionDuration,
		sessionDuration: sessionDuration,
	}
}

// GenerateActionToken signs an action link payload with the standard
// action expiry.
func (m *TokenManager) GenerateActionToken(claims ActionClaims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(m.actionDuration)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    "citizenspring",
		Subject:   claims.Action,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}
	return signed, nil
}

// ValidateActionToken verifies signature and expiry and returns the
// action payload. Expired tokens return ErrExpiredToken so callers can
// answer with a friendly message instead of a generic failure.
func (m *TokenManager) ValidateActionToken(tokenString string) (*ActionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActionClaims{}, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ActionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSessionToken signs a long-lived session token after a short
// code exchange.
func (m *TokenManager) GenerateSessionToken(userID int, email string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "citizenspring",
			Subject:   email,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken verifies a session token.
func (m *TokenManager) ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return m.secretKey, nil
}
