package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// EnvAdminInitialPassword is the environment variable that sets the initial
// admin password during bootstrap instead of generating a random one.
const EnvAdminInitialPassword = "GGBOOT_ADMIN_INITIAL_PASSWORD"

// HashPassword returns a bcrypt hash of the given password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash against a candidate password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GetOrGenerateAdminPassword returns the admin password from the environment
// if set, otherwise generates a random one.
func GetOrGenerateAdminPassword() (string, error) {
	if pw := os.Getenv(EnvAdminInitialPassword); pw != "" {
		return pw, nil
	}

	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DefaultAdminUser returns the bootstrap administrator account.
func DefaultAdminUser(passwordHash string) *User {
	return &User{
		Username:     AdminUsername,
		PasswordHash: passwordHash,
		Role:         string(RoleAdmin),
		Active:       true,
	}
}
