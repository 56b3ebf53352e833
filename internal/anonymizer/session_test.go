package anonymizer

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/record"
	"dicom-cleaner/internal/scrub"
	"dicom-cleaner/internal/translate"
	"dicom-cleaner/internal/uid"
)

func counterSource() uid.Source {
	n := 0
	return uid.SourceFunc(func() (string, error) {
		n++
		return fmt.Sprintf("1.2.999.%d", n), nil
	})
}

func newTestSession(opts Options) *Session {
	if opts.UIDSource == nil {
		opts.UIDSource = counterSource()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	return NewSession(opts)
}

// scenarioRecord is {PatientID, SeriesInstanceUID, Sequence[{SOPInstanceUID}]}.
func scenarioRecord() *record.Record {
	return record.New(
		record.NewString(tag.PatientID, "LO", "12345"),
		record.NewString(tag.SeriesInstanceUID, "UI", "1.2.3"),
		record.NewSequence(tag.ReferencedImageSequence,
			record.New(record.NewString(tag.SOPInstanceUID, "UI", "1.2.3.4")),
		),
	)
}

func nestedSOP(t *testing.T, rec *record.Record, item int) string {
	t.Helper()
	seq, ok := rec.Find(tag.ReferencedImageSequence)
	require.True(t, ok)
	require.Greater(t, len(seq.Value.Items()), item)
	return seq.Value.Items()[item].GetString(tag.SOPInstanceUID)
}

func TestAnonymizeScenario(t *testing.T) {
	s := newTestSession(Options{})
	rec := scenarioRecord()

	report, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)
	assert.Empty(t, report.LeafErrors)
	assert.Equal(t, "$ABC123", report.AnonPatientID)
	assert.Equal(t, "12345", report.OriginalPatientID)
	assert.Equal(t, 2, report.Translated)

	assert.Equal(t, "$ABC123", rec.GetString(tag.PatientID))

	series := rec.GetString(tag.SeriesInstanceUID)
	sop := nestedSOP(t, rec, 0)
	assert.NotEqual(t, "1.2.3", series)
	assert.NotEqual(t, "1.2.3.4", sop)
	assert.NotEqual(t, series, sop)
	assert.True(t, uid.Valid(series))
	assert.True(t, uid.Valid(sop))

	cached, ok := s.Translation("$ABC123", "1.2.3", "12345")
	require.True(t, ok)
	assert.Equal(t, series, cached)
}

func TestAnonymizeRepeatedUIDsAreConsistent(t *testing.T) {
	s := newTestSession(Options{})

	rec := record.New(
		record.NewString(tag.PatientID, "LO", "12345"),
		record.NewString(tag.SOPInstanceUID, "UI", "1.2.3.4"),
		record.NewSequence(tag.ReferencedImageSequence,
			record.New(record.NewString(tag.SOPInstanceUID, "UI", "1.2.3.4")),
			record.New(record.NewString(tag.SOPInstanceUID, "UI", "1.2.3.5")),
		),
	)
	_, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)

	top := rec.GetString(tag.SOPInstanceUID)
	assert.Equal(t, top, nestedSOP(t, rec, 0))
	assert.NotEqual(t, top, nestedSOP(t, rec, 1))

	// Same patient in a later record: same replacements.
	again := scenarioRecord()
	again.Put(record.NewString(tag.SOPInstanceUID, "UI", "1.2.3.4"))
	_, err = s.Anonymize(again, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)
	assert.Equal(t, top, again.GetString(tag.SOPInstanceUID))
	assert.Equal(t, top, nestedSOP(t, again, 0))

	// Different anonymized patient: fresh replacements.
	other := scenarioRecord()
	_, err = s.Anonymize(other, ReplacementSpec{tag.PatientID: "$XYZ999"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, top, nestedSOP(t, other, 0))
}

func TestAnonymizeOriginalPatientIDIsNormalized(t *testing.T) {
	s := newTestSession(Options{})

	a := scenarioRecord()
	_, err := s.Anonymize(a, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)

	b := scenarioRecord()
	b.Put(record.NewString(tag.PatientID, "LO", " 12345 "))
	_, err = s.Anonymize(b, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.GetString(tag.SeriesInstanceUID), b.GetString(tag.SeriesInstanceUID))
}

func TestAnonymizeAggressiveOnly(t *testing.T) {
	s := newTestSession(Options{})
	rec := record.New(record.NewString(tag.ManufacturerModelName, "LO", "Brilliance Big Bore orig orig"))

	table := scrub.NewTable(map[string]string{"BIG": "---", "orig": "origin"})
	report, err := s.Anonymize(rec, ReplacementSpec{}, table)
	require.NoError(t, err)

	assert.Equal(t, "Brilliance --- Bore origin origin", rec.GetString(tag.ManufacturerModelName))
	assert.Equal(t, 1, report.Scrubbed)
	assert.NotEmpty(t, report.AnonPatientID)
}

func TestAnonymizeGeneratesPatientID(t *testing.T) {
	s := newTestSession(Options{Template: "RES-####"})
	rec := scenarioRecord()

	report, err := s.Anonymize(rec, nil, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^RES-[0-9]{4}$`, report.AnonPatientID)
	assert.Equal(t, report.AnonPatientID, rec.GetString(tag.PatientID))
}

func TestAnonymizeGenerationExhausted(t *testing.T) {
	s := newTestSession(Options{Template: "X"})

	_, err := s.Anonymize(scenarioRecord(), nil, nil)
	require.NoError(t, err)

	rec := scenarioRecord()
	_, err = s.Anonymize(rec, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrGenerationExhausted))

	var ge *identity.GenerationExhaustedError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "X", ge.LastCandidate)

	// Nothing was touched.
	assert.Equal(t, "12345", rec.GetString(tag.PatientID))
	assert.Equal(t, "1.2.3", rec.GetString(tag.SeriesInstanceUID))
}

func TestUIDPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   UIDPolicy
		value    string
		explicit bool
	}{
		{"prefer explicit valid", UIDPolicyPreferExplicit, "9.9.9", true},
		{"prefer explicit invalid", UIDPolicyPreferExplicit, "not-a-uid", false},
		{"always translate", UIDPolicyAlwaysTranslate, "9.9.9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(Options{UIDPolicy: tt.policy})
			rec := record.New(
				record.NewString(tag.PatientID, "LO", "12345"),
				record.NewString(tag.StudyInstanceUID, "UI", "1.2.3"),
			)
			spec := ReplacementSpec{tag.PatientID: "P1", tag.StudyInstanceUID: tt.value}

			report, err := s.Anonymize(rec, spec, nil)
			require.NoError(t, err)
			assert.Empty(t, report.LeafErrors)

			got := rec.GetString(tag.StudyInstanceUID)
			if tt.explicit {
				assert.Equal(t, tt.value, got)
				assert.Equal(t, 0, s.CacheLen())
				return
			}
			cached, ok := s.Translation("P1", "1.2.3", "12345")
			require.True(t, ok)
			assert.Equal(t, cached, got)
		})
	}
}

func TestParseUIDPolicy(t *testing.T) {
	p, err := ParseUIDPolicy("Always-Translate")
	require.NoError(t, err)
	assert.Equal(t, UIDPolicyAlwaysTranslate, p)
	assert.Equal(t, "always-translate", p.String())

	p, err = ParseUIDPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UIDPolicyPreferExplicit, p)

	_, err = ParseUIDPolicy("never")
	assert.Error(t, err)
}

func TestAnonymizeValueAssignmentFailure(t *testing.T) {
	s := newTestSession(Options{})
	rec := record.New(
		record.NewString(tag.PatientID, "LO", "12345"),
		record.NewString(tag.PatientSex, "CS", "M"),
		record.NewSequence(tag.ReferencedImageSequence,
			record.New(record.NewString(tag.PatientSex, "CS", "F")),
		),
	)
	spec := ReplacementSpec{tag.PatientID: "P1", tag.PatientSex: "THIS VALUE IS FAR TOO LONG FOR CS"}

	report, err := s.Anonymize(rec, spec, nil)
	require.NoError(t, err)
	require.Len(t, report.LeafErrors, 2)

	// Elements are walked in tag order, so the sequence comes first.
	assert.Equal(t, "(0008,1140)[0].(0010,0040)", report.LeafErrors[0].Path.String())

	top := report.LeafErrors[1]
	assert.Equal(t, KindValueAssignment, top.Kind)
	assert.Equal(t, tag.PatientSex, top.Tag)
	assert.Equal(t, "(0010,0040)", top.Path.String())
	assert.True(t, errors.Is(top, record.ErrValueTooLong))

	sex, ok := rec.Find(tag.PatientSex)
	require.True(t, ok)
	assert.True(t, sex.Value.IsEmpty())
	assert.Equal(t, 2, report.Cleared)
	assert.Error(t, report.Err())
}

func TestAnonymizeMultiValueSpec(t *testing.T) {
	s := newTestSession(Options{})
	rec := record.New(record.NewString(tag.ImageType, "CS", "ORIGINAL", "PRIMARY"))

	_, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1", tag.ImageType: `DERIVED\SECONDARY\AXIAL`}, nil)
	require.NoError(t, err)

	e, _ := rec.Find(tag.ImageType)
	assert.Equal(t, []string{"DERIVED", "SECONDARY", "AXIAL"}, e.Strings())
}

func TestAnonymizeSequenceClear(t *testing.T) {
	s := newTestSession(Options{})
	rec := scenarioRecord()

	report, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1", tag.ReferencedImageSequence: ""}, nil)
	require.NoError(t, err)

	seq, ok := rec.Find(tag.ReferencedImageSequence)
	require.True(t, ok)
	assert.Empty(t, seq.Value.Items())
	assert.Equal(t, 1, report.Cleared)
	assert.Equal(t, 1, report.Translated)
}

func TestAnonymizeBinaryLeaf(t *testing.T) {
	private := tag.Tag{Group: 0x0009, Element: 0x1010}

	t.Run("scrubbed", func(t *testing.T) {
		s := newTestSession(Options{})
		rec := record.New(record.NewBytes(private, "UN", []byte("Dr John ")))

		report, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1"}, scrub.NewTable(map[string]string{"john": "J"}))
		require.NoError(t, err)
		assert.Empty(t, report.LeafErrors)

		e, _ := rec.Find(private)
		assert.Equal(t, []byte("Dr J \x00"), e.Value.Bytes())
		assert.Equal(t, 1, report.Scrubbed)
	})

	t.Run("unencodable is dropped", func(t *testing.T) {
		s := newTestSession(Options{})
		rec := record.New(record.NewBytes(private, "UN", []byte("Dr John ")))

		report, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1"}, scrub.NewTable(map[string]string{"john": "€"}))
		require.NoError(t, err)
		require.Len(t, report.LeafErrors, 1)
		assert.Equal(t, KindScrub, report.LeafErrors[0].Kind)
		assert.True(t, errors.Is(report.LeafErrors[0], scrub.ErrUnencodable))

		e, _ := rec.Find(private)
		assert.Empty(t, e.Value.Bytes())
	})
}

func TestAnonymizeUIDScrubbing(t *testing.T) {
	table := scrub.NewTable(map[string]string{"840": "999"})
	classUID := "1.2.840.10008.5.1.4.1.1.7"

	s := newTestSession(Options{})
	rec := record.New(record.NewString(tag.SOPClassUID, "UI", classUID))
	_, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1"}, table)
	require.NoError(t, err)
	assert.Equal(t, classUID, rec.GetString(tag.SOPClassUID))

	s = newTestSession(Options{ScrubUIDs: true})
	rec = record.New(record.NewString(tag.SOPClassUID, "UI", classUID))
	_, err = s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1"}, table)
	require.NoError(t, err)
	assert.Equal(t, "1.2.999.10008.5.1.4.1.1.7", rec.GetString(tag.SOPClassUID))
}

func TestTranslateUIDsOption(t *testing.T) {
	s := newTestSession(Options{TranslateUIDs: []tag.Tag{}})
	rec := scenarioRecord()

	_, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "P1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", rec.GetString(tag.SeriesInstanceUID))
	assert.Equal(t, 0, s.CacheLen())
}

func TestClearForPatient(t *testing.T) {
	s := newTestSession(Options{})

	p1 := scenarioRecord()
	p1.Put(record.NewString(tag.PatientID, "LO", "p1"))
	_, err := s.Anonymize(p1, ReplacementSpec{tag.PatientID: "A1"}, nil)
	require.NoError(t, err)

	p2 := scenarioRecord()
	p2.Put(record.NewString(tag.PatientID, "LO", "P2"))
	_, err = s.Anonymize(p2, ReplacementSpec{tag.PatientID: "A2"}, nil)
	require.NoError(t, err)
	before, ok := s.Translation("A2", "1.2.3", "P2")
	require.True(t, ok)

	assert.Equal(t, 2, s.ClearForPatient("P1 "))
	assert.Equal(t, 2, s.CacheLen())

	_, ok = s.Translation("A1", "1.2.3", "p1")
	assert.False(t, ok)
	after, ok := s.Translation("A2", "1.2.3", "P2")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestClearAll(t *testing.T) {
	s := newTestSession(Options{Template: "X"})

	_, err := s.Anonymize(scenarioRecord(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, s.CacheLen())

	s.ClearAll()
	assert.Equal(t, 0, s.CacheLen())

	id, err := s.IssuePatientID()
	require.NoError(t, err)
	assert.Equal(t, "X", id)
}

func TestSetTemplate(t *testing.T) {
	s := newTestSession(Options{})
	assert.Equal(t, identity.DefaultTemplate, s.Template())

	s.SetTemplate("")
	assert.Equal(t, identity.DefaultTemplate, s.Template())

	s.SetTemplate("Q-??")
	id, err := s.IssuePatientID()
	require.NoError(t, err)
	assert.Regexp(t, `^Q-[A-Z]{2}$`, id)
}

func TestAnonymizeConcurrent(t *testing.T) {
	s := NewSession(Options{})

	const workers = 8
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := scenarioRecord()
			if _, err := s.Anonymize(rec, ReplacementSpec{tag.PatientID: "$ABC123"}, nil); err != nil {
				t.Error(err)
				return
			}
			results[i] = rec.GetString(tag.SeriesInstanceUID)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 2, s.CacheLen())
}

func TestPreloadAndExport(t *testing.T) {
	dir := t.TempDir()
	preload := filepath.Join(dir, "preload.yaml")
	require.NoError(t, os.WriteFile(preload, []byte(`
patients:
  - original_patient_id: "12345"
    anonymized_patient_id: "$ABC123"
    uids:
      - original: "1.2.3"
        anonymized: "2.25.42"
`), 0644))

	s := newTestSession(Options{Template: "$ABC123"})
	n, err := s.Preload(preload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Preloaded IDs are reserved.
	_, err = s.IssuePatientID()
	assert.True(t, errors.Is(err, identity.ErrGenerationExhausted))

	rec := scenarioRecord()
	_, err = s.Anonymize(rec, ReplacementSpec{tag.PatientID: "$ABC123"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "2.25.42", rec.GetString(tag.SeriesInstanceUID))

	export := filepath.Join(dir, "export.json")
	require.NoError(t, s.Export(export))

	f, err := translate.ReadFile(export)
	require.NoError(t, err)
	require.Len(t, f.Patients, 1)
	assert.Equal(t, "$ABC123", f.Patients[0].AnonymizedPatientID)
	assert.Len(t, f.Patients[0].UIDs, 2)
}

func TestPreloadFailureKeepsSessionUsable(t *testing.T) {
	s := newTestSession(Options{})
	_, err := s.Preload(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var pe *translate.PreloadError
	assert.True(t, errors.As(err, &pe))

	_, err = s.Anonymize(scenarioRecord(), ReplacementSpec{tag.PatientID: "P1"}, nil)
	assert.NoError(t, err)
}

func TestTruncateDates(t *testing.T) {
	rec := record.New(
		record.NewString(tag.StudyDate, "DA", "20240315"),
		record.NewString(tag.PatientBirthDate, "DA", "19700412"),
		record.NewSequence(tag.ReferencedImageSequence,
			record.New(record.NewString(tag.ContentDate, "DA", "2024")),
		),
	)

	n := TruncateDates(rec, DateTagsToTruncate)
	assert.Equal(t, 2, n)
	assert.Equal(t, "20240301", rec.GetString(tag.StudyDate))
	assert.Equal(t, "19700412", rec.GetString(tag.PatientBirthDate))

	seq, _ := rec.Find(tag.ReferencedImageSequence)
	assert.Equal(t, "", seq.Value.Items()[0].GetString(tag.ContentDate))
}

func TestDefaultReplacementSpec(t *testing.T) {
	spec := DefaultReplacementSpec()
	assert.Len(t, spec, len(PIITagsToClear))
	for _, tg := range PIITagsToClear {
		assert.Equal(t, "", spec[tg])
	}
	_, hasPID := spec[tag.PatientID]
	assert.False(t, hasPID)
}
