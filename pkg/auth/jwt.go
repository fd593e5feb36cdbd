package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptyNodeID   = errors.New("nodeID cannot be empty")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
)

// FeedTokenManager issues and validates the HMAC tokens members present
// when connecting to each other's oplog feeds. Every member of a set
// shares the same secret.
type FeedTokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewFeedTokenManager creates a token manager.
// Returns an error if the secret is shorter than 32 characters (security requirement).
func NewFeedTokenManager(secret string, tokenDuration time.Duration) (*FeedTokenManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &FeedTokenManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken generates a feed token identifying the connecting node.
func (m *FeedTokenManager) GenerateToken(nodeID string) (string, error) {
	if nodeID == "" {
		return "", ErrEmptyNodeID
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"node_id": nodeID,
		"exp":     now.Add(m.tokenDuration).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a feed token and returns the node ID it was
// issued to.
func (m *FeedTokenManager) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidClaims
	}
	nodeID, ok := claims["node_id"].(string)
	if !ok || nodeID == "" {
		return "", ErrInvalidClaims
	}
	return nodeID, nil
}
