// Package uid validates and allocates DICOM unique identifiers.
package uid

import (
	"math/big"
	"regexp"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MaxLength is the longest UID the UI value representation allows.
const MaxLength = 64

// uuidRoot is the arc registered for UUID-derived UIDs (PS3.5 B.2).
const uuidRoot = "2.25."

var grammar = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))+$`)

// Valid reports whether s is a syntactically valid UID: dot-separated
// numeric components without leading zeros, at most 64 characters.
func Valid(s string) bool {
	if s == "" || len(s) > MaxLength {
		return false
	}
	return grammar.MatchString(s)
}

// Source allocates globally unique identifiers.
type Source interface {
	NewUID() (string, error)
}

// UUIDSource derives UIDs from random UUIDs under the 2.25 root.
type UUIDSource struct{}

// NewUID returns a fresh "2.25.<decimal uuid>" identifier.
func (UUIDSource) NewUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "could not allocate uuid")
	}
	return FromUUID(id), nil
}

// FromUUID renders a UUID as a 2.25 UID.
func FromUUID(id uuid.UUID) string {
	n := new(big.Int).SetBytes(id[:])
	return uuidRoot + n.String()
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (string, error)

// NewUID calls f.
func (f SourceFunc) NewUID() (string, error) { return f() }
