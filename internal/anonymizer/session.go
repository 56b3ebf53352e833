package anonymizer

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/record"
	"dicom-cleaner/internal/scrub"
	"dicom-cleaner/internal/translate"
	"dicom-cleaner/internal/uid"
)

// UIDPolicy decides how a replacement spec entry for a UID leaf is applied.
type UIDPolicy int

const (
	// UIDPolicyPreferExplicit uses the spec value directly when it is a valid
	// UID and translates through the cache otherwise.
	UIDPolicyPreferExplicit UIDPolicy = iota
	// UIDPolicyAlwaysTranslate ignores the spec value and always translates.
	UIDPolicyAlwaysTranslate
)

func (p UIDPolicy) String() string {
	switch p {
	case UIDPolicyAlwaysTranslate:
		return "always-translate"
	default:
		return "prefer-explicit"
	}
}

// ParseUIDPolicy parses "prefer-explicit" or "always-translate".
func ParseUIDPolicy(s string) (UIDPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefer-explicit":
		return UIDPolicyPreferExplicit, nil
	case "always-translate":
		return UIDPolicyAlwaysTranslate, nil
	}
	return 0, errors.Newf("invalid uid policy %q: want prefer-explicit or always-translate", s)
}

// ReplacementSpec maps tags to replacement values. A backslash separates
// multiple values. An empty value on a sequence removes its items.
type ReplacementSpec map[tag.Tag]string

// With returns a copy of spec with t set to value.
func (spec ReplacementSpec) With(t tag.Tag, value string) ReplacementSpec {
	out := make(ReplacementSpec, len(spec)+1)
	for k, v := range spec {
		out[k] = v
	}
	out[t] = value
	return out
}

// Options configures a Session.
type Options struct {
	// Template for synthetic patient IDs; identity.DefaultTemplate if empty.
	Template string
	// UIDPolicy applies to UID leaves that have a replacement spec entry.
	UIDPolicy UIDPolicy
	// TranslateUIDs are UID tags remapped even without a spec entry.
	// Nil selects DefaultTranslatedUIDs; an empty slice disables it.
	TranslateUIDs []tag.Tag
	// ScrubUIDs runs the scrubber over UID leaves too.
	ScrubUIDs bool
	// UIDSource allocates replacement UIDs; uid.UUIDSource if nil.
	UIDSource uid.Source
	// Rand drives patient ID generation; seeded randomly if nil.
	Rand *rand.Rand
}

// Session owns the identifier state of one anonymization run: the
// translation cache, the issued patient IDs and the active template.
// All methods are safe for concurrent use and fully serialized.
type Session struct {
	mu            sync.Mutex
	gen           *identity.Generator
	cache         *translate.Cache
	policy        UIDPolicy
	translateUIDs map[tag.Tag]bool
	scrubUIDs     bool
}

// NewSession creates a session with empty state.
func NewSession(opts Options) *Session {
	var genOpts []identity.Option
	if opts.Rand != nil {
		genOpts = append(genOpts, identity.WithRand(opts.Rand))
	}

	uids := opts.TranslateUIDs
	if uids == nil {
		uids = DefaultTranslatedUIDs
	}
	translateUIDs := make(map[tag.Tag]bool, len(uids))
	for _, t := range uids {
		translateUIDs[t] = true
	}

	return &Session{
		gen:           identity.NewGenerator(opts.Template, genOpts...),
		cache:         translate.NewCache(opts.UIDSource),
		policy:        opts.UIDPolicy,
		translateUIDs: translateUIDs,
		scrubUIDs:     opts.ScrubUIDs,
	}
}

// SetTemplate changes the patient ID template. Empty templates are ignored.
func (s *Session) SetTemplate(template string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.SetTemplate(template)
}

// Template returns the active patient ID template.
func (s *Session) Template() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.Template()
}

// IssuePatientID returns a fresh unique patient ID from the template.
func (s *Session) IssuePatientID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.MakeUnique()
}

// ReservePatientIDs marks ids as issued so generation never repeats them.
func (s *Session) ReservePatientIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.gen.Reserve(id)
	}
}

// ClearAll empties the translation cache and forgets issued patient IDs.
func (s *Session) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.ClearAll()
	s.gen.Reset()
}

// ClearForPatient drops the translations recorded for an original patient
// ID, compared ignoring case and surrounding whitespace.
func (s *Session) ClearForPatient(originalPatientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.ClearForPatient(originalPatientID)
}

// CacheLen returns the number of cached translations.
func (s *Session) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Translation returns a cached translation without allocating.
func (s *Session) Translation(anonPatientID, originalID, originalPatientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Lookup(anonPatientID, originalID, originalPatientID)
}

// Preload fills the cache from a preload file and reserves the patient IDs
// it names. Failures are logged and returned, but whatever was read before
// the failure stays loaded; callers may carry on with the session.
func (s *Session) Preload(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, n, err := s.cache.Preload(path)
	if f != nil {
		for _, p := range f.Patients {
			s.gen.Reserve(p.AnonymizedPatientID)
		}
	}
	if err != nil {
		log.Errorf("%v; continuing with %d cached translations", err, s.cache.Len())
		return n, err
	}
	log.Infof("preloaded %d uid translations from %s", n, path)
	return n, nil
}

// Export writes the cache in preload format.
func (s *Session) Export(path string) error {
	s.mu.Lock()
	snap := s.cache.Snapshot()
	s.mu.Unlock()

	if err := translate.WriteFile(path, snap); err != nil {
		return errors.Wrapf(err, "export %s", path)
	}
	log.Infof("exported %d patients to %s", len(snap.Patients), path)
	return nil
}

// Anonymize rewrites rec in place. The anonymized patient ID comes from
// spec[PatientID] when present, otherwise from the template. Every UID is
// remapped through the cache under that ID, so repeated identifiers stay
// consistent within and across records of the same patient.
//
// The only error returned is a failure to issue a patient ID; per-leaf
// failures are recovered and listed in the Report.
func (s *Session) Anonymize(rec *record.Record, spec ReplacementSpec, table scrub.Table) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	origPID := rec.GetString(tag.PatientID)
	anonPID, explicit := spec[tag.PatientID]
	if !explicit {
		var err error
		anonPID, err = s.gen.MakeUnique()
		if err != nil {
			return nil, errors.Wrap(err, "could not assign anonymized patient id")
		}
	}

	w := &walker{
		session: s,
		spec:    spec.With(tag.PatientID, anonPID),
		table:   table,
		anonPID: anonPID,
		origPID: origPID,
		report:  &Report{AnonPatientID: anonPID, OriginalPatientID: origPID},
	}
	w.walk(rec, nil)

	for _, le := range w.report.LeafErrors {
		log.Warnf("patient %s: %v", anonPID, le)
	}
	return w.report, nil
}
