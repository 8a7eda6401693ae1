// Package auth issues and verifies the HS256 JWTs that identify employees to
// the chat API.
//
// Environment variables:
//
//	AUTH_ENABLED           = true | false  (default: true)
//	JWT_SECRET             = signing key   (required when AUTH_ENABLED=true)
//	JWT_EXPIRY_HOURS       = token lifetime in hours (default: 24)
//	KBAI_OPEN_REGISTRATION = true | false  (default: false)
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultExpiry is the token lifetime when JWT_EXPIRY_HOURS is unset.
const defaultExpiry = 24 * time.Hour

// minSecretLen is the shortest accepted signing key.
const minSecretLen = 16

var (
	// ErrInvalidToken is returned for malformed, forged or wrongly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken is returned when a well-formed token has expired.
	ErrExpiredToken = errors.New("auth: token expired")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// DevUser is the identity every request carries when auth is disabled.
var DevUser = Identity{UserID: "dev-user", Name: "Dev User", Email: "dev@example.com"}

// Config holds authentication settings.
type Config struct {
	// Enabled turns JWT verification on. When false every request is DevUser.
	Enabled bool
	// Secret is the HS256 signing key.
	Secret string
	// Expiry is the lifetime of issued tokens.
	Expiry time.Duration
	// OpenRegistration lets unknown emails create an account at login.
	// When false only pre-registered users may log in.
	OpenRegistration bool
}

// ConfigFromEnv reads authentication settings from the environment.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Enabled:          envBool("AUTH_ENABLED", true),
		Secret:           os.Getenv("JWT_SECRET"),
		Expiry:           defaultExpiry,
		OpenRegistration: envBool("KBAI_OPEN_REGISTRATION", false),
	}
	if h, err := strconv.Atoi(os.Getenv("JWT_EXPIRY_HOURS")); err == nil && h > 0 {
		cfg.Expiry = time.Duration(h) * time.Hour
	}
	return cfg
}

// Validate reports configuration that would make the API unusable or unsafe.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Secret) < minSecretLen {
		return fmt.Errorf("auth: JWT_SECRET must be at least %d characters when AUTH_ENABLED=true", minSecretLen)
	}
	return nil
}

// claims is the JWT payload.
type claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens.
type Issuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer for cfg. cfg.Secret must be set.
func NewIssuer(cfg *Config) (*Issuer, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, fmt.Errorf("auth: signing secret must not be empty")
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	return &Issuer{secret: []byte(cfg.Secret), expiry: expiry, now: time.Now}, nil
}

// Issue returns a signed token for id.
func (i *Issuer) Issue(id Identity) (string, error) {
	now := i.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the identity it carries. Only HS256 is
// accepted.
func (i *Issuer) Verify(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrExpiredToken
	case err != nil:
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case c.Subject == "":
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: c.Subject, Name: c.Name, Email: c.Email}, nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
