// Package ids generates transaction identifiers and validates document keys.
package ids

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a document key fails the safety checks.
var ErrInvalidKey = errors.New("invalid key")

// NewTransactionID returns a fresh, random transaction identifier.
func NewTransactionID() uuid.UUID {
	return uuid.New()
}

// ValidateKey checks a document key against the rules in the data model:
// non-empty, and free of path separators and ".." traversal substrings.
func ValidateKey(key string) error {
	if key == "" {
		return errValidation(key, "key must not be empty")
	}
	if strings.ContainsAny(key, "/\\") {
		return errValidation(key, "key must not contain '/' or '\\'")
	}
	if strings.Contains(key, "..") {
		return errValidation(key, "key must not contain '..'")
	}
	return nil
}

func errValidation(key, reason string) error {
	return &keyError{key: key, reason: reason}
}

type keyError struct {
	key    string
	reason string
}

func (e *keyError) Error() string {
	return "invalid key " + "\"" + e.key + "\": " + e.reason
}

func (e *keyError) Unwrap() error {
	return ErrInvalidKey
}
