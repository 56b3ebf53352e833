package identity

import "strings"

// PlaceholderNames are values that indicate missing/test data
var PlaceholderNames = map[string]bool{
	"":          true,
	"unknown":   true,
	"no name":   true,
	"noname":    true,
	"anonymous": true,
	"test":      true,
	"patient":   true,
}

// PlaceholderDOBs are values that indicate missing/test DOB data
var PlaceholderDOBs = map[string]bool{
	"":         true,
	"00000000": true,
	"11111111": true,
	"19000101": true,
	"99999999": true,
}

// MinNameLength is the shortest normalized name treated as real.
const MinNameLength = 3

// IsPlaceholderName reports whether name is empty, a known placeholder, or too short.
func IsPlaceholderName(name string) bool {
	normalized := strings.ToLower(NormalizeName(name))
	return PlaceholderNames[normalized] || len(normalized) < MinNameLength
}

// IsValidIdentity checks if name and DOB are real values, not placeholders.
func IsValidIdentity(name, dob string) bool {
	if IsPlaceholderName(name) {
		return false
	}

	dobStr := strings.TrimSpace(dob)
	return !PlaceholderDOBs[dobStr] && len(dobStr) == 8
}
