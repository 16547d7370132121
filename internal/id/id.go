// Package id generates identifiers for books, sessions and client requests.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used for server-side identifiers.
const (
	PrefixBook    = "book"
	PrefixSession = "sess"
	PrefixBridge  = "sse"
)

// Generate creates a prefixed NanoID, e.g. "book-V1StGXR8_Z5jdHi6B-myT".
// It fails only when the system has insufficient entropy.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Request returns a client request id of the form "<action>-<uuid>", e.g.
// "list-6f1c...". Request ids are opaque to the server; the action prefix only
// helps when reading logs.
func Request(action string) string {
	return strings.ToLower(action) + "-" + uuid.NewString()
}
