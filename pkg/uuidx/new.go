// Package uuidx generates time ordered identifiers for connections and queries.
package uuidx

import "github.com/google/uuid"

// New generates a version 7 UUID, so identifiers created later sort after
// earlier ones. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a version 7 UUID with New and returns its canonical
// hyphenated form.
func NewString() string {
	return New().String()
}
