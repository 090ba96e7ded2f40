package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that are missing, malformed,
// expired, or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates HS256-signed client tokens. The subject claim
// carries the user ID.
type TokenVerifier struct {
	signingKey []byte
	clockSkew  time.Duration
}

// NewTokenVerifier creates a verifier for the given signing secret.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &TokenVerifier{
		signingKey: []byte(secret),
		clockSkew:  2 * time.Minute,
	}, nil
}

// VerifyToken validates the token and returns the user ID it was issued for.
func (v *TokenVerifier) VerifyToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.clockSkew),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// IssueToken signs a token for the given user, valid for ttl.
// Backs the token subcommand and tests; clients normally arrive with
// tokens minted by the account service sharing the secret.
func (v *TokenVerifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
