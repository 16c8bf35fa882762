package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liminal-foundation/lre-core/internal/store"
)

var (
	// ErrTokenMissing is returned when no token was supplied.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures and malformed tokens.
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the payload carried by access tokens.
type Claims struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// TokenIssuer signs and validates HS256 access tokens. The signing key
// length is enforced at configuration time (at least 32 bytes).
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer builds an issuer with the given symmetric key and expiry.
func NewTokenIssuer(secret []byte, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, expiry: expiry}
}

// Issue produces a signed access token for the user.
func (t *TokenIssuer) Issue(u *store.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username:  u.Username,
		Role:      u.Role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature and expiry and returns the claims.
// Failures are classified as ErrTokenMissing, ErrTokenExpired or
// ErrTokenInvalid.
func (t *TokenIssuer) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.TokenType != "access" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
