package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword_VerifiesOriginalOnly(t *testing.T) {
	hash, err := HashPassword("GoodPass123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "GoodPass123" {
		t.Fatal("hash must not equal the plain password")
	}
	if !VerifyPassword("GoodPass123", hash) {
		t.Error("expected correct password to verify")
	}
	if VerifyPassword("GoodPass124", hash) {
		t.Error("expected wrong password to be rejected")
	}
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	h1, err := HashPassword("GoodPass123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	h2, err := HashPassword("GoodPass123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if h1 == h2 {
		t.Error("expected different hashes for the same password")
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("A", 73))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("err = %v, want ErrPasswordTooLong", err)
	}
}

func TestVerifyPassword_MalformedHash_ReturnsFalse(t *testing.T) {
	if VerifyPassword("GoodPass123", "not-a-bcrypt-hash") {
		t.Error("expected false for malformed hash")
	}
	if VerifyPassword("GoodPass123", "") {
		t.Error("expected false for empty hash")
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		wantOK     bool
		wantReason string
	}{
		{"too short", "short1", false, ReasonPasswordTooShort},
		{"short even with all classes", "Ab1", false, ReasonPasswordTooShort},
		{"all lowercase", "alllowercase1", false, ReasonPasswordCharset},
		{"no digit", "NoDigitsHere", false, ReasonPasswordCharset},
		{"no lowercase", "ALLUPPER123", false, ReasonPasswordCharset},
		{"good", "GoodPass123", true, ""},
		{"multibyte counted as characters", "Ünïcödé1", true, ""},
		{"empty", "", false, ReasonPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := CheckPasswordStrength(tt.password)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}
