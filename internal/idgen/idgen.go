// Package idgen provides the identifier strategies used for pages,
// blocks, categories and slugs.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique; used for every primary key.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator that produces base-36 IDs of the given
// length. Short and URL-safe; used for page slugs.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Default is the primary-key generator.
var Default Generator = UUIDv7()

// Slug is the page slug generator.
var Slug Generator = NanoID(12)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Valid reports whether s parses as a UUID. Callers use it to reject
// malformed references before they reach the database.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
