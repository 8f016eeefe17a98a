package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSource yields the bearer token for one outgoing request. It is called
// per request so short-lived tokens never go stale between attempts.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static always returns the same token. An empty Static sends no
// Authorization header.
type Static string

func (s Static) Token(context.Context) (string, error) { return strings.TrimSpace(string(s)), nil }

// Claims carried by tokens minted by JWTSource.
type Claims struct {
	jwt.RegisteredClaims
	Locale string `json:"locale,omitempty"`
}

// JWTSource mints a fresh HS256 token for every call.
type JWTSource struct {
	Secret   []byte
	Subject  string
	Issuer   string
	Audience string
	Locale   string
	TTL      time.Duration
	Now      func() time.Time
}

// NewJWTSource returns a source signing with secret. A non-positive ttl
// defaults to one minute.
func NewJWTSource(secret, subject string, ttl time.Duration) *JWTSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &JWTSource{Secret: []byte(secret), Subject: subject, Issuer: "genpipe", TTL: ttl}
}

func (s *JWTSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.Secret) == 0 {
		return "", errors.New("credentials: jwt secret not configured")
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.Subject,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
		Locale: s.Locale,
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("credentials: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses an HS256 token signed with secret and returns its claims.
func Verify(secret, token string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("credentials: jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("credentials: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("credentials: subject claim required")
	}
	return claims, nil
}
