package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestVerifyAcceptsValidToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token := SignToken("shared", "user-42", now, now.Add(time.Hour))

	verifier, err := NewTokenVerifier("shared", time.Second)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token := SignToken("shared", "user-42", now, now.Add(time.Hour))
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	verifier, _ := NewTokenVerifier("shared", 0)
	verifier.WithClock(func() time.Time { return now })

	if _, err := verifier.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token := SignToken("shared", "user-42", issued, issued.Add(time.Minute))

	verifier, _ := NewTokenVerifier("shared", 0)
	verifier.WithClock(func() time.Time { return issued.Add(2 * time.Minute) })

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token := SignToken("shared", "user-42", now, now.Add(time.Hour))

	verifier, _ := NewTokenVerifier("other", 0)
	verifier.WithClock(func() time.Time { return now })

	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	verifier, _ := NewTokenVerifier("shared", 0)
	for _, token := range []string{"", "only.two", "a.b.c.d"} {
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected invalid token, got %v", token, err)
		}
	}
}
