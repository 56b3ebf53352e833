// Package scrub performs aggressive substring redaction over text values.
package scrub

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"golang.org/x/text/encoding/charmap"
)

// MaxSubstitutions caps replacements of one pattern within one value.
const MaxSubstitutions = 100

// ErrUnencodable means scrubbed text cannot be stored back into a binary value.
var ErrUnencodable = errors.New("scrubbed text cannot be re-encoded")

// Table maps lowercase literal patterns to replacement text.
type Table map[string]string

// NewTable builds a Table, lowercasing patterns and skipping empty ones.
func NewTable(pairs map[string]string) Table {
	t := make(Table, len(pairs))
	for pattern, repl := range pairs {
		t.Add(pattern, repl)
	}
	return t
}

// Add inserts a pair. Empty patterns are ignored.
func (t Table) Add(pattern, replacement string) {
	pattern = lower(pattern)
	if pattern == "" {
		return
	}
	t[pattern] = replacement
}

// Patterns returns the patterns in application order: longest first so a
// name is replaced before any of its prefixes, ties broken alphabetically.
func (t Table) Patterns() []string {
	patterns := lo.Keys(t)
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	return patterns
}

// Merge returns a new table with other's pairs overriding t's.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for p, r := range t {
		out[p] = r
	}
	for p, r := range other {
		out.Add(p, r)
	}
	return out
}

// Scrub rewrites every value, replacing each occurrence of each pattern
// (case-insensitively) with its replacement. It reports whether anything
// changed; values is not modified.
func Scrub(values []string, table Table) (bool, []string) {
	out := make([]string, len(values))
	copy(out, values)
	if len(table) == 0 {
		return false, out
	}

	patterns := table.Patterns()
	changed := false
	for i, v := range out {
		for _, p := range patterns {
			var n int
			v, n = replaceFold(v, p, table[p])
			if n > 0 {
				changed = true
			}
		}
		out[i] = v
	}
	return changed, out
}

// replaceFold substitutes pattern in s. The search resumes after each
// inserted replacement, so replacement text is never matched again in the
// same pass.
func replaceFold(s, pattern, replacement string) (string, int) {
	pattern = lower(pattern)
	if pattern == "" {
		return s, 0
	}
	folded := lower(s)
	lowRepl := lower(replacement)

	cursor, n := 0, 0
	for n < MaxSubstitutions {
		idx := strings.Index(folded[cursor:], pattern)
		if idx < 0 {
			break
		}
		start := cursor + idx
		end := start + len(pattern)

		s = s[:start] + replacement + s[end:]
		folded = folded[:start] + lowRepl + folded[end:]
		cursor = start + len(replacement)
		n++
	}
	return s, n
}

// lower folds case rune by rune. Runes whose lowercase form encodes to a
// different width, and invalid bytes, are kept as is so byte offsets stay
// aligned with the original string.
func lower(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, w := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && w <= 1 {
			sb.WriteByte(s[i])
			i++
			continue
		}
		if l := unicode.ToLower(r); utf8.RuneLen(l) == w {
			sb.WriteRune(l)
		} else {
			sb.WriteString(s[i : i+w])
		}
		i += w
	}
	return sb.String()
}

// ScrubBytes scrubs a binary value as ISO-8859-1 text. The result is
// re-encoded and padded to even length with NUL. If the replacement text
// has characters outside the charset it returns ErrUnencodable.
func ScrubBytes(raw []byte, table Table) (bool, []byte, error) {
	if len(table) == 0 || len(raw) == 0 {
		return false, raw, nil
	}

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return false, raw, errors.Wrap(err, "could not decode binary value")
	}

	changed, out := Scrub([]string{string(text)}, table)
	if !changed {
		return false, raw, nil
	}

	encoded, err := charmap.ISO8859_1.NewEncoder().String(out[0])
	if err != nil {
		return true, nil, errors.Mark(errors.Wrap(err, "could not encode scrubbed value"), ErrUnencodable)
	}

	b := []byte(encoded)
	if len(b)%2 == 1 {
		b = append(b, 0)
	}
	return true, b, nil
}
