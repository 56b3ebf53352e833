package scrub

import (
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/record"
)

// Mask replaces name fragments found in free text.
const Mask = "XXXXXX"

// NameTags hold person names whose parts are scrubbed from every other field.
var NameTags = []tag.Tag{
	tag.PatientName,
	tag.OtherPatientNames,
	tag.PatientBirthName,
	tag.PatientMotherBirthName,
}

// TableFromRecord derives a table from the record's own patient names:
// every name part of at least identity.MinNameLength letters that is not a
// placeholder maps to Mask. Pairs in extra override derived ones.
func TableFromRecord(rec *record.Record, extra Table) Table {
	t := make(Table)
	for _, tg := range NameTags {
		e, ok := rec.Find(tg)
		if !ok {
			continue
		}
		for _, name := range e.Strings() {
			if identity.IsPlaceholderName(name) {
				continue
			}
			for _, part := range identity.NameParts(name) {
				if len(part) < identity.MinNameLength || identity.PlaceholderNames[lower(part)] {
					continue
				}
				t.Add(part, Mask)
			}
		}
	}
	return t.Merge(extra)
}
