// Package auth checks the shared stream-pause password.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrWrongPassword is returned when a pause request supplies the wrong password.
	ErrWrongPassword = errors.New("wrong pause password")
	// ErrNotConfigured is returned when no pause password was configured at startup.
	ErrNotConfigured = errors.New("stream pause password is not configured")
)

// PauseAuthenticator checks the single shared password that protects
// POST /api/stream/{sourceId}/pause.
type PauseAuthenticator struct {
	hash []byte
}

// NewPauseAuthenticator hashes the configured plaintext password once at
// startup. An empty password disables the pause endpoint entirely.
func NewPauseAuthenticator(plaintext string) (*PauseAuthenticator, error) {
	if plaintext == "" {
		return &PauseAuthenticator{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &PauseAuthenticator{hash: hash}, nil
}

// Check compares the supplied password against the configured hash.
func (a *PauseAuthenticator) Check(password string) error {
	if len(a.hash) == 0 {
		return ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// Configured reports whether a pause password was set.
func (a *PauseAuthenticator) Configured() bool {
	return len(a.hash) > 0
}
