package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Algo       = "pbkdf2_sha256"
	pbkdf2Iterations = 390000
	pbkdf2SaltBytes  = 16
	pbkdf2KeyBytes   = 32
)

// HashPassword encodes a password as "pbkdf2_sha256$iterations$salt$digest",
// salt and digest hex-encoded, matching the scheme mandated by spec.
func HashPassword(password string) (string, error) {
	salt := make([]byte, pbkdf2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	digest := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyBytes, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s", pbkdf2Algo, pbkdf2Iterations, hex.EncodeToString(salt), hex.EncodeToString(digest)), nil
}

// VerifyPassword checks a password against an encoded hash produced by
// HashPassword, using a constant-time digest comparison.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != pbkdf2Algo {
		return false, fmt.Errorf("unrecognized password hash format")
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("invalid iteration count in password hash")
	}

	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("invalid salt encoding")
	}

	want, err := hex.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("invalid digest encoding")
	}

	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// PasswordPolicyOK enforces the minimum password policy: at least 8
// characters, containing at least one letter and one digit.
func PasswordPolicyOK(password string) bool {
	if len(password) < 8 {
		return false
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// HashToken returns the hex-encoded SHA-256 digest of a bearer token, the
// only form a session token is ever persisted in.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
