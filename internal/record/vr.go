package record

import (
	"strings"

	"github.com/cockroachdb/errors"

	"dicom-cleaner/internal/uid"
)

var (
	// ErrValueTooLong means a value exceeds the maximum length of its VR.
	ErrValueTooLong = errors.New("value too long for representation")
	// ErrInvalidValue means a value is not well formed for its VR.
	ErrInvalidValue = errors.New("value invalid for representation")
)

// maxLength holds the per-value byte limits of the textual VRs (PS3.5 6.2).
// Zero means unbounded.
var maxLength = map[string]int{
	"AE": 16,
	"AS": 4,
	"CS": 16,
	"DA": 8,
	"DS": 16,
	"DT": 26,
	"IS": 12,
	"LO": 64,
	"LT": 10240,
	"PN": 64,
	"SH": 16,
	"ST": 1024,
	"TM": 16,
	"UI": uid.MaxLength,
	"UC": 0,
	"UR": 0,
	"UT": 0,
}

// singleValued VRs may contain a backslash as ordinary text.
var singleValued = map[string]bool{"LT": true, "ST": true, "UT": true, "UR": true}

// IsUID reports whether vr is the unique identifier representation.
func IsUID(vr string) bool { return vr == "UI" }

// IsBinary reports whether vr is stored as raw bytes.
func IsBinary(vr string) bool {
	switch vr {
	case "OB", "OW", "OD", "OF", "OL", "OV", "UN":
		return true
	}
	return false
}

// IsSequence reports whether vr holds nested items.
func IsSequence(vr string) bool { return vr == "SQ" }

// SplitMulti splits a replacement string on the DICOM value delimiter.
func SplitMulti(vr, s string) []string {
	if singleValued[vr] {
		return []string{s}
	}
	return strings.Split(s, `\`)
}

// ValidateValue checks one textual value against the constraints of vr.
func ValidateValue(vr, s string) error {
	if limit, ok := maxLength[vr]; ok && limit > 0 && len(s) > limit {
		return errors.Wrapf(ErrValueTooLong, "%d bytes exceeds %s limit of %d", len(s), vr, limit)
	}
	if s == "" {
		return nil
	}
	if !singleValued[vr] && strings.Contains(s, `\`) {
		return errors.Wrapf(ErrInvalidValue, "%s value contains delimiter", vr)
	}

	switch vr {
	case "UI":
		if !uid.Valid(s) {
			return errors.Wrapf(ErrInvalidValue, "%q is not a valid UID", s)
		}
	case "DA":
		if len(s) != 8 || strings.Trim(s, "0123456789") != "" {
			return errors.Wrapf(ErrInvalidValue, "%q is not a YYYYMMDD date", s)
		}
	}
	return nil
}
