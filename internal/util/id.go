package util

import "github.com/google/uuid"

// NewID returns a random UUID v4 string.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s looks like an id produced by NewID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
