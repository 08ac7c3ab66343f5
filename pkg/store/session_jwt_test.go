package store

import (
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token is not a compact JWT: %q", token)
	}

	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("GetUserIDByToken() = %v, %v, %v", userID, ok, err)
	}
	if userID != "user-1" {
		t.Fatalf("subject = %q, want user-1", userID)
	}
}

func TestJWTSessionRejectsWrongSecret(t *testing.T) {
	issuer, err := NewJWTSessionStore("secret-a", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}
	verifier, err := NewJWTSessionStore("secret-b", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}

	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if _, ok, err := verifier.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}

func TestJWTSessionRejectsExpired(t *testing.T) {
	s, err := NewJWTSessionStoreWithOptions("test-secret", time.Millisecond, nil, JWTOptions{
		Leeway: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewJWTSessionStoreWithOptions() error: %v", err)
	}

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestJWTSessionRejectsTampered(t *testing.T) {
	s, err := NewJWTSessionStore("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + "AAAA"
	if _, ok, err := s.GetUserIDByToken(tampered); ok || err == nil {
		t.Fatalf("expected tampered signature to fail verification")
	}
	if _, ok, err := s.GetUserIDByToken("not-a-token"); ok || err == nil {
		t.Fatalf("expected malformed token to fail verification")
	}
	if _, ok, err := s.GetUserIDByToken(""); ok || err == nil {
		t.Fatalf("expected empty token to fail verification")
	}
}

func TestJWTSessionRejectsAlgNone(t *testing.T) {
	s, err := NewJWTSessionStore("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		ID:        "jti-1",
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing unsecured token: %v", err)
	}

	if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expected alg=none token to fail verification")
	}
}

func TestJWTSessionDeleteRevokes(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s, err := NewJWTSessionStore("test-secret", time.Hour, revoker)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !ok || err != nil {
		t.Fatalf("token should verify before revocation: %v", err)
	}

	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expected revoked token to fail verification")
	}

	// The second session is independent of the first.
	other, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(other); !ok || err != nil {
		t.Fatalf("fresh token should still verify: %v", err)
	}
}

func TestJWTSessionConfigValidation(t *testing.T) {
	if _, err := NewJWTSessionStore("", time.Hour, nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewJWTSessionStore("secret", 0, nil); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
	s, err := NewJWTSessionStore("secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTSessionStore() error: %v", err)
	}
	if _, err := s.NewSession(""); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}
