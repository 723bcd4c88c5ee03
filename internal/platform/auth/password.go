package auth

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Parameters of the salt:hash format written by the first clinic backend.
const (
	legacyIterations = 100000
	legacyKeyLen     = 64
)

var hashCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash or a legacy
// "salt:hex(pbkdf2-sha512)" hash imported from the flat-file backend.
func VerifyPassword(password, stored string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" {
		return false
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), []byte(salt), legacyIterations, legacyKeyLen, sha512.New)
	return subtle.ConstantTimeCompare(got, wantBytes) == 1
}

// IsLegacyHash reports whether stored should be rehashed after a successful
// login.
func IsLegacyHash(stored string) bool {
	return !strings.HasPrefix(stored, "$2")
}
