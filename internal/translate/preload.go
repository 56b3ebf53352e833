package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// File is the preload/export document: patients, each with the UID
// pairs assigned under their anonymized ID.
type File struct {
	Patients []PatientEntry `json:"patients" yaml:"patients"`
}

// PatientEntry is one patient of a File.
type PatientEntry struct {
	OriginalPatientID   string    `json:"original_patient_id" yaml:"original_patient_id"`
	AnonymizedPatientID string    `json:"anonymized_patient_id" yaml:"anonymized_patient_id"`
	UIDs                []UIDPair `json:"uids" yaml:"uids"`
}

// UIDPair maps an original identifier to its replacement.
type UIDPair struct {
	Original   string `json:"original" yaml:"original"`
	Anonymized string `json:"anonymized" yaml:"anonymized"`
}

// PreloadError reports a preload file that could not be fully applied.
// Loaded entries before the failure stay in the cache.
type PreloadError struct {
	Path   string
	Loaded int
	Err    error
}

func (e *PreloadError) Error() string {
	return fmt.Sprintf("preload %s: %v (%d entries loaded)", e.Path, e.Err, e.Loaded)
}

func (e *PreloadError) Unwrap() error { return e.Err }

// ErrMalformedEntry marks a preload entry missing required fields.
var ErrMalformedEntry = errors.New("malformed preload entry")

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ReadFile parses a preload document. ".json" files are decoded as JSON,
// everything else as YAML.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read preload file")
	}

	var f File
	if isJSON(path) {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not parse preload file")
	}
	return &f, nil
}

// Load applies f to the cache in document order; a later entry for the
// same key wins. It stops at the first malformed entry.
func (c *Cache) Load(f *File) (int, error) {
	loaded := 0
	for i, p := range f.Patients {
		if strings.TrimSpace(p.AnonymizedPatientID) == "" {
			return loaded, errors.Wrapf(ErrMalformedEntry, "patient %d has no anonymized_patient_id", i)
		}
		for j, pair := range p.UIDs {
			if pair.Original == "" || pair.Anonymized == "" {
				return loaded, errors.Wrapf(ErrMalformedEntry, "patient %d uid %d is incomplete", i, j)
			}
			c.Put(NewKey(p.AnonymizedPatientID, pair.Original, p.OriginalPatientID), pair.Anonymized)
			loaded++
		}
	}
	return loaded, nil
}

// Preload reads path into the cache. The returned File lets callers pick
// up the anonymized patient IDs it names; it is nil if parsing failed.
func (c *Cache) Preload(path string) (*File, int, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, 0, &PreloadError{Path: path, Err: err}
	}
	n, err := c.Load(f)
	if err != nil {
		return f, n, &PreloadError{Path: path, Loaded: n, Err: err}
	}
	return f, n, nil
}

type patientKey struct {
	original, anonymized string
}

// Snapshot renders the cache as a File. Original patient IDs appear in
// their normalized form.
func (c *Cache) Snapshot() *File {
	groups := lo.GroupBy(c.Entries(), func(e Entry) patientKey {
		return patientKey{original: e.OriginalPatientID, anonymized: e.AnonPatientID}
	})

	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].original != keys[j].original {
			return keys[i].original < keys[j].original
		}
		return keys[i].anonymized < keys[j].anonymized
	})

	f := &File{Patients: make([]PatientEntry, 0, len(keys))}
	for _, k := range keys {
		f.Patients = append(f.Patients, PatientEntry{
			OriginalPatientID:   k.original,
			AnonymizedPatientID: k.anonymized,
			UIDs: lo.Map(groups[k], func(e Entry, _ int) UIDPair {
				return UIDPair{Original: e.OriginalID, Anonymized: e.Replacement}
			}),
		})
	}
	return f
}

// WriteFile writes f to path in the format its extension selects.
func WriteFile(path string, f *File) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return errors.Wrap(err, "could not encode cache")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "could not create export directory")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "could not write export file")
	}
	return nil
}
