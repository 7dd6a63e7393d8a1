package auth

import (
	"errors"
	"testing"
	"time"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti := NewTokenIssuer(testSigningKey, time.Hour)
	token, exp, err := ti.Issue("user-1", "doc@clinic.test")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected future expiry, got %v", exp)
	}

	claims, err := ti.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "doc@clinic.test" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := NewTokenIssuer(testSigningKey, time.Minute)
	ti.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := ti.Issue("user-1", "a@b.c")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ti.now = time.Now
	if _, err := ti.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_WrongKey(t *testing.T) {
	token, _, _ := NewTokenIssuer(testSigningKey, time.Hour).Issue("user-1", "a@b.c")
	other := NewTokenIssuer([]byte("another-key-entirely-different-000"), time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := other.Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}
