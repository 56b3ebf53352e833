// Package translate remaps identifiers consistently for the lifetime of a
// cache, so cross-referencing UIDs stay mutually consistent after redaction.
package translate

import (
	"sort"

	"github.com/cockroachdb/errors"

	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/uid"
)

// maxAllocAttempts bounds retries when the allocator repeats a value.
const maxAllocAttempts = 10

// ErrAllocatorCollision means the UID source kept returning values already assigned.
var ErrAllocatorCollision = errors.New("uid source returned an already assigned identifier")

// Key identifies one translation. OriginalPatientID is stored normalized,
// so it compares case- and whitespace-insensitively; the other fields
// compare exactly.
type Key struct {
	AnonPatientID     string
	OriginalID        string
	OriginalPatientID string
}

// NewKey builds a Key with the original patient ID normalized.
func NewKey(anonPatientID, originalID, originalPatientID string) Key {
	return Key{
		AnonPatientID:     anonPatientID,
		OriginalID:        originalID,
		OriginalPatientID: identity.NormalizePatientID(originalPatientID),
	}
}

// Entry is one cached translation.
type Entry struct {
	Key
	Replacement string
}

// Cache maps Keys to replacement identifiers. Entries are created on first
// use and never overwritten by Translate. It is not safe for concurrent
// use; the owning session serializes access.
type Cache struct {
	source  uid.Source
	entries map[Key]string
	used    map[string]int // replacement -> number of keys using it
}

// NewCache creates an empty cache drawing new identifiers from source.
func NewCache(source uid.Source) *Cache {
	if source == nil {
		source = uid.UUIDSource{}
	}
	return &Cache{
		source:  source,
		entries: make(map[Key]string),
		used:    make(map[string]int),
	}
}

// Translate returns the replacement for originalID, allocating one on first use.
func (c *Cache) Translate(anonPatientID, originalID, originalPatientID string) (string, error) {
	key := NewKey(anonPatientID, originalID, originalPatientID)
	if repl, ok := c.entries[key]; ok {
		return repl, nil
	}

	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		repl, err := c.source.NewUID()
		if err != nil {
			return "", errors.Wrapf(err, "translate %q", originalID)
		}
		if c.used[repl] > 0 {
			continue
		}
		c.put(key, repl)
		return repl, nil
	}
	return "", errors.Wrapf(ErrAllocatorCollision, "translate %q", originalID)
}

// Lookup returns a cached replacement without allocating.
func (c *Cache) Lookup(anonPatientID, originalID, originalPatientID string) (string, bool) {
	repl, ok := c.entries[NewKey(anonPatientID, originalID, originalPatientID)]
	return repl, ok
}

// Put stores a translation, replacing any existing one for the key.
func (c *Cache) Put(key Key, replacement string) {
	key.OriginalPatientID = identity.NormalizePatientID(key.OriginalPatientID)
	c.put(key, replacement)
}

func (c *Cache) put(key Key, replacement string) {
	if old, ok := c.entries[key]; ok {
		c.release(old)
	}
	c.entries[key] = replacement
	c.used[replacement]++
}

func (c *Cache) release(replacement string) {
	if c.used[replacement] <= 1 {
		delete(c.used, replacement)
		return
	}
	c.used[replacement]--
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() {
	c.entries = make(map[Key]string)
	c.used = make(map[string]int)
}

// ClearForPatient removes the entries whose original patient ID matches
// originalPatientID ignoring case and surrounding whitespace. It returns
// the number removed.
func (c *Cache) ClearForPatient(originalPatientID string) int {
	pid := identity.NormalizePatientID(originalPatientID)
	removed := 0
	for key, repl := range c.entries {
		if key.OriginalPatientID == pid {
			delete(c.entries, key)
			c.release(repl)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.entries) }

// Entries returns a sorted copy of the cache contents.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for key, repl := range c.entries {
		out = append(out, Entry{Key: key, Replacement: repl})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OriginalPatientID != b.OriginalPatientID {
			return a.OriginalPatientID < b.OriginalPatientID
		}
		if a.AnonPatientID != b.AnonPatientID {
			return a.AnonPatientID < b.AnonPatientID
		}
		return a.OriginalID < b.OriginalID
	})
	return out
}
