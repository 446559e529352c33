package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	encoded, err := HashPassword("correct-horse-1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword(encoded, "correct-horse-1")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("VerifyPassword should accept the original password")
	}

	ok, err = VerifyPassword(encoded, "wrong-password-1")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("VerifyPassword should reject an incorrect password")
	}
}

func TestHashPasswordUsesDistinctSalts(t *testing.T) {
	a, err := HashPassword("same-password-1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same-password-1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password should differ due to random salt")
	}
}

func TestHashPasswordEncodingShape(t *testing.T) {
	encoded, err := HashPassword("whatever-123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		t.Fatalf("encoded hash has %d parts, want 4: %q", len(parts), encoded)
	}
	if parts[0] != "pbkdf2_sha256" {
		t.Errorf("algo = %q, want pbkdf2_sha256", parts[0])
	}
	if parts[1] != "390000" {
		t.Errorf("iterations = %q, want 390000", parts[1])
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []string{
		"",
		"not-a-hash",
		"pbkdf2_sha256$abc$deadbeef$deadbeef",
		"bcrypt$10$salt$digest",
	}
	for _, encoded := range cases {
		if _, err := VerifyPassword(encoded, "whatever"); err == nil {
			t.Errorf("VerifyPassword(%q) should error on malformed hash", encoded)
		}
	}
}

func TestPasswordPolicyOK(t *testing.T) {
	cases := []struct {
		password string
		want     bool
	}{
		{"short1", false},
		{"alllettersnodigits", false},
		{"12345678", false},
		{"validpass1", true},
		{"Valid123Pass", true},
	}
	for _, c := range cases {
		if got := PasswordPolicyOK(c.password); got != c.want {
			t.Errorf("PasswordPolicyOK(%q) = %v, want %v", c.password, got, c.want)
		}
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("session-token-abc")
	b := HashToken("session-token-abc")
	if a != b {
		t.Error("HashToken should be deterministic")
	}
	if HashToken("session-token-xyz") == a {
		t.Error("different tokens should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("HashToken length = %d, want 64 (hex sha256)", len(a))
	}
}
