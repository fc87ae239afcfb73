package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("top-secret")
	tok, err := IssueToken(secret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := Verify(secret, tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestIssueTokenIsRandomized(t *testing.T) {
	secret := []byte("top-secret")
	a, err := IssueToken(secret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	b, err := IssueToken(secret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if a == b {
		t.Fatal("two tokens issued with the same ttl must not be identical")
	}
	if _, err := Verify(secret, a); err != nil {
		t.Fatalf("Verify(a): %v", err)
	}
	if _, err := Verify(secret, b); err != nil {
		t.Fatalf("Verify(b): %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	secret := []byte("top-secret")
	tok, _ := IssueToken(secret, time.Hour)
	tampered := tok[:len(tok)-1] + "x"
	if _, err := Verify(secret, tampered); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _ := IssueToken([]byte("secret-a"), time.Hour)
	if _, err := Verify([]byte("secret-b"), tok); err == nil {
		t.Fatal("expected verification with wrong secret to fail")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("top-secret")
	tok, _ := IssueToken(secret, -time.Hour)
	if _, err := Verify(secret, tok); err != ErrTokenExpired {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestIssueTokenNoExpiry(t *testing.T) {
	secret := []byte("top-secret")
	tok, err := IssueToken(secret, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := Verify(secret, tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !claims.Expires.IsZero() {
		t.Fatalf("want zero Expires, got %v", claims.Expires)
	}
}
