package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef-test-secret"

func newTestIssuer(t *testing.T, expiry time.Duration) *Issuer {
	t.Helper()
	i, err := NewIssuer(&Config{Enabled: true, Secret: testSecret, Expiry: expiry})
	if err != nil {
		t.Fatalf("NewIssuer() error: %v", err)
	}
	return i
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, time.Hour)
	want := Identity{UserID: "u-1", Name: "Alice Smith", Email: "alice@example.com"}
	tok, err := i.Issue(want)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	got, err := i.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got != want {
		t.Errorf("Verify() = %+v, want %+v", got, want)
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, time.Hour)
	valid, _ := i.Issue(Identity{UserID: "u-1"})

	other, _ := NewIssuer(&Config{Secret: "another-secret-of-enough-length"})
	forged, _ := other.Issue(Identity{UserID: "u-1"})

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u-1",
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged},
		{"alg none", none},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
		{"truncated", valid[:len(valid)-4]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := i.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t, time.Hour)
	i.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := i.Issue(Identity{UserID: "u-1"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	i.now = time.Now
	if _, err := i.Verify(tok); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() err = %v, want ErrExpiredToken", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("JWT_EXPIRY_HOURS", "8")
	t.Setenv("KBAI_OPEN_REGISTRATION", "true")

	cfg := ConfigFromEnv()
	if cfg.Enabled || cfg.Secret != "s" || cfg.Expiry != 8*time.Hour || !cfg.OpenRegistration {
		t.Errorf("ConfigFromEnv() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled auth should not need a secret: %v", err)
	}

	cfg.Enabled = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Validate() = %v, want JWT_SECRET error", err)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "")
	t.Setenv("JWT_EXPIRY_HOURS", "zero")
	t.Setenv("KBAI_OPEN_REGISTRATION", "")

	cfg := ConfigFromEnv()
	if !cfg.Enabled || cfg.Expiry != defaultExpiry || cfg.OpenRegistration {
		t.Errorf("defaults = %+v", cfg)
	}
}
