package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	for _, secret := range []string{"", "   "} {
		if _, err := NewTokenIssuer(secret); err == nil {
			t.Fatalf("expected error for secret %q", secret)
		}
	}
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	issuer, err := NewTokenIssuer("test-secret", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, exp, err := issuer.Issue(Identity{ID: "u1", Name: "Ada", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	id, err := issuer.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.ID != "u1" || id.Name != "Ada" || id.Role != RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}

	clock = now.Add(7*24*time.Hour + time.Second)
	if _, err := issuer.Resolve(token); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected expired token to fail with ErrAuth, got %v", err)
	}
}

func TestResolveRejectsTampering(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, _, err := issuer.Issue(Identity{ID: "u1", Name: "Ada", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, _ := NewTokenIssuer("other-secret")
	foreign, _, _ := other.Issue(Identity{ID: "u1", Name: "Ada", Role: RoleAdmin})

	otherIssuer, _ := NewTokenIssuer("test-secret", WithIssuer("someone-else"))
	wrongIss, _, _ := otherIssuer.Issue(Identity{ID: "u1", Name: "Ada", Role: RoleUser})

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: defaultIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	parts := strings.Split(token, ".")
	flipped := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, candidate := range map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"foreign secret": foreign,
		"wrong issuer":   wrongIss,
		"alg none":       unsigned,
		"payload edited": flipped,
	} {
		if _, err := issuer.Resolve(candidate); !errors.Is(err, ErrAuth) {
			t.Fatalf("%s: expected ErrAuth, got %v", name, err)
		}
	}
}
