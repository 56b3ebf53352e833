package anonymizer

import (
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/record"
)

// PIITagsToClear are DICOM tags to clear completely (set to empty string)
var PIITagsToClear = []tag.Tag{
	// Patient identifiers
	tag.PatientName,
	tag.PatientBirthDate,
	tag.PatientAge,
	// tag.PatientSex - KEPT for clinical relevance
	tag.PatientAddress,
	tag.PatientTelephoneNumbers,
	tag.OtherPatientIDs,
	tag.OtherPatientIDsSequence,
	tag.OtherPatientNames,
	tag.PatientBirthName,
	tag.PatientBirthTime,
	tag.PatientMotherBirthName,
	tag.MilitaryRank,
	tag.EthnicGroup,
	tag.PatientReligiousPreference,
	tag.PatientComments,

	// Times only (dates handled separately to keep year-month)
	tag.StudyTime,
	tag.SeriesTime,
	tag.AcquisitionTime,
	tag.ContentTime,
	tag.InstanceCreationTime,

	// Institution information (InstitutionName KEPT for research tracking)
	tag.InstitutionAddress,
	tag.InstitutionalDepartmentName,
	tag.StationName,

	// Physician information
	tag.ReferringPhysicianName,
	tag.ReferringPhysicianAddress,
	tag.ReferringPhysicianTelephoneNumbers,
	tag.PerformingPhysicianName,
	tag.OperatorsName,
	tag.PhysiciansOfRecord,
	tag.NameOfPhysiciansReadingStudy,
	tag.RequestingPhysician,
	tag.ScheduledPerformingPhysicianName,

	// Other identifiers
	tag.AccessionNumber,
	tag.RequestAttributesSequence,
	tag.PerformedProcedureStepID,
	tag.ScheduledProcedureStepID,
	tag.StudyID,
}

// DateTagsToTruncate are DICOM date tags to truncate to YYYYMM01
var DateTagsToTruncate = []tag.Tag{
	tag.StudyDate,
	tag.SeriesDate,
	tag.AcquisitionDate,
	tag.ContentDate,
	tag.InstanceCreationDate,
}

// DefaultTranslatedUIDs are the instance UIDs remapped in every record.
// Class and transfer syntax UIDs are deliberately absent: they name
// standard objects, not patients.
var DefaultTranslatedUIDs = []tag.Tag{
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
	tag.SOPInstanceUID,
	tag.MediaStorageSOPInstanceUID,
	tag.FrameOfReferenceUID,
	tag.SynchronizationFrameOfReferenceUID,
	tag.ReferencedSOPInstanceUID,
	tag.IrradiationEventUID,
	tag.ConcatenationUID,
	tag.DimensionOrganizationUID,
}

// DefaultReplacementSpec clears every tag in PIITagsToClear.
func DefaultReplacementSpec() ReplacementSpec {
	spec := make(ReplacementSpec, len(PIITagsToClear))
	for _, t := range PIITagsToClear {
		spec[t] = ""
	}
	return spec
}

// TruncateDates rewrites each listed date at any depth to YYYYMM01.
// Values too short to keep a month are cleared.
func TruncateDates(rec *record.Record, tags []tag.Tag) int {
	want := make(map[tag.Tag]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	return truncateDates(rec, want)
}

func truncateDates(rec *record.Record, want map[tag.Tag]bool) int {
	n := 0
	for _, e := range rec.Elements() {
		if e.IsSequence() {
			for _, item := range e.Value.Items() {
				n += truncateDates(item, want)
			}
			continue
		}
		if !want[e.Tag] {
			continue
		}

		vals := e.Strings()
		out := make([]string, len(vals))
		for i, v := range vals {
			if len(v) >= 6 {
				out[i] = v[:6] + "01"
			}
		}
		if err := e.SetStrings(out...); err != nil {
			e.Clear()
		}
		n++
	}
	return n
}
