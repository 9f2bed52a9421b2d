package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLocalTokenRoundTrip(t *testing.T) {
	codec, err := NewLocalTokenCodec("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, expiresAt, err := codec.Issue("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}
	subject, err := codec.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if subject != "alice@example.com" {
		t.Fatalf("subject = %q", subject)
	}
}

func TestLocalTokenExpiryIsTerminal(t *testing.T) {
	codec, err := NewLocalTokenCodec("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := codec.Issue("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// Move the verification clock past the expiry. Lifetime is fixed at
	// issue: verifying late never extends it.
	codec.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLocalTokenTamperDetected(t *testing.T) {
	codec, _ := NewLocalTokenCodec("test-secret", time.Hour)
	token, _, err := codec.Issue("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("malformed token %q", token)
	}
	payload := []byte(parts[1])
	payload[0] ^= 0x01
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := codec.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLocalTokenWrongSecret(t *testing.T) {
	issuer, _ := NewLocalTokenCodec("secret-a", time.Hour)
	verifier, _ := NewLocalTokenCodec("secret-b", time.Hour)

	token, _, err := issuer.Issue("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLocalTokenEmptyInputs(t *testing.T) {
	codec, _ := NewLocalTokenCodec("test-secret", time.Hour)
	if _, _, err := codec.Issue(""); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := codec.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
