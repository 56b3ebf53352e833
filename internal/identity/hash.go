package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var nonAlphaRegex = regexp.MustCompile(`[^A-Z\s]`)

// nameSeparators are the characters that split person name components:
// DICOM component (^) and group (=) delimiters, commas and whitespace.
var nameSeparators = strings.NewReplacer("^", " ", "=", " ", ",", " ")

// NameParts splits a patient name into its uppercase alphabetic parts, in
// order of appearance. "SMITH^JOHN", "John Smith" and "smith, john" all
// yield the same set.
func NameParts(name string) []string {
	name = strings.ToUpper(nameSeparators.Replace(name))
	name = nonAlphaRegex.ReplaceAllString(name, "")
	return strings.Fields(name)
}

// NormalizeName normalizes a patient name for consistent matching.
func NormalizeName(name string) string {
	parts := NameParts(name)
	sort.Strings(parts)
	return strings.Join(parts, "")
}

// CreateIdentityHash creates a consistent hash from patient name, DOB, and optional salt.
// Returns uppercase 12-character hex string.
func CreateIdentityHash(name, dob, salt string) string {
	identityString := fmt.Sprintf("%s|%s|%s", NormalizeName(name), strings.TrimSpace(dob), salt)
	hash := sha256.Sum256([]byte(identityString))
	return strings.ToUpper(hex.EncodeToString(hash[:])[:12])
}
