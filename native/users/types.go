package users

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NotFoundName is returned by Login for unknown addresses.
const NotFoundName = "User not found"

const (
	MaxNameLength  = 128
	MaxEmailLength = 254
)

var (
	ErrInvalidName  = errors.New("users: invalid name")
	ErrInvalidEmail = errors.New("users: invalid email")
)

// User is a registered participant.
type User struct {
	ID           uint64
	Address      [20]byte
	Name         string
	Email        string
	Registered   bool
	RegisteredAt int64
	// RegistrationSequence is the ledger sequence at registration.
	RegistrationSequence uint64
}

func normalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	normalized := norm.NFC.String(strings.TrimSpace(name))
	if normalized == "" || len(normalized) > MaxNameLength {
		return "", fmt.Errorf("%w: must be 1..%d bytes", ErrInvalidName, MaxNameLength)
	}
	return normalized, nil
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > MaxEmailLength {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidEmail, MaxEmailLength)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, trimmed)
	}
	return strings.ToLower(trimmed), nil
}
