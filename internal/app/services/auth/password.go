package auth

import (
	"golang.org/x/crypto/bcrypt"

	apperr "github.com/estrateo/estrateo/internal/errors"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// bcrypt ignores everything past 72 bytes.
const maxPasswordLength = 72

// HashPassword validates and hashes a plaintext password.
func HashPassword(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Internal("hash password", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return apperr.Validation("password must be at least %d characters", MinPasswordLength)
	case len(password) > maxPasswordLength:
		return apperr.Validation("password must be at most %d bytes", maxPasswordLength)
	}
	return nil
}
