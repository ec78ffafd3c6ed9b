package security

import (
	"errors"
	"testing"
	"time"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("secret", "admin", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}

	claims, errParse := ParseAdminToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.Username != "admin" {
		t.Fatalf("username = %q, want admin", claims.Username)
	}
}

func TestAdminTokenWrongSecret(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("secret", "admin", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, errParse := ParseAdminToken("other", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errParse)
	}
}

func TestAdminTokenExpired(t *testing.T) {
	t.Parallel()

	token, errGen := GenerateAdminToken("secret", "admin", -time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, errParse := ParseAdminToken("secret", token); !errors.Is(errParse, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", errParse)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, errHash := HashAdminPassword("correct horse")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !VerifyAdminPassword(hash, "correct horse") {
		t.Fatalf("expected matching password to verify")
	}
	if VerifyAdminPassword(hash, "wrong horse") {
		t.Fatalf("expected mismatched password to fail")
	}
}
