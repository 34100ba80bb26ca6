package auth

import (
	"context"
	"testing"
	"time"
)

func TestIssueAndValidateSessionToken(t *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "proconnect-auth",
		Audience:      "proconnect-api",
		TokenTTL:      time.Minute,
	})

	token, expiresIn, err := issuer.IssueSessionToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != 60 {
		t.Fatalf("expected 60 second expiry, got %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %s", subject)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "proconnect-auth",
		Audience:      "proconnect-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued },
	})

	token, _, err := issuer.IssueSessionToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "proconnect-auth",
		Audience:      "proconnect-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued.Add(2 * time.Minute) },
	})
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestIssueSessionTokenRequiresUser(t *testing.T) {
	issuer := NewSessionIssuer(SessionIssuerConfig{SigningSecret: []byte("s")})
	if _, _, err := issuer.IssueSessionToken(context.Background(), ""); err == nil {
		t.Fatal("expected missing subject error")
	}
}
