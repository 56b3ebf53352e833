package anonymizer

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/record"
)

// ErrorKind classifies a recovered per-leaf failure.
type ErrorKind string

const (
	// KindValueAssignment: the replacement did not fit the VR; the leaf was cleared.
	KindValueAssignment ErrorKind = "value_assignment"
	// KindTranslation: no replacement UID could be allocated; the leaf was cleared.
	KindTranslation ErrorKind = "translation"
	// KindScrub: scrubbing failed; the leaf keeps its value unless it could
	// not be re-encoded, in which case it was dropped.
	KindScrub ErrorKind = "scrub"
)

// LeafError records a failure on one leaf that did not stop the walk.
type LeafError struct {
	Path record.Path
	Tag  tag.Tag
	Kind ErrorKind
	Err  error
}

func (e *LeafError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LeafError) Unwrap() error { return e.Err }

// Report summarizes one Anonymize call.
type Report struct {
	AnonPatientID     string
	OriginalPatientID string

	Replaced   int // leaves overwritten from the replacement spec
	Translated int // UID leaves remapped through the cache
	Scrubbed   int // leaves changed by the aggressive scrubber
	Cleared    int // leaves emptied, by spec or after a failure

	LeafErrors []*LeafError
}

// Err combines the leaf errors, or returns nil if there were none.
func (r *Report) Err() error {
	var err error
	for _, le := range r.LeafErrors {
		err = errors.CombineErrors(err, le)
	}
	return err
}

func (r *Report) addError(path record.Path, t tag.Tag, kind ErrorKind, err error) {
	r.LeafErrors = append(r.LeafErrors, &LeafError{Path: path, Tag: t, Kind: kind, Err: err})
}

// Merge adds other's counters and errors into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Replaced += other.Replaced
	r.Translated += other.Translated
	r.Scrubbed += other.Scrubbed
	r.Cleared += other.Cleared
	r.LeafErrors = append(r.LeafErrors, other.LeafErrors...)
}
