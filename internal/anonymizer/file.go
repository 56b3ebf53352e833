package anonymizer

import (
	dcm "dicom-cleaner/internal/dicom"
	"dicom-cleaner/internal/scrub"
)

// FileOptions controls what AnonymizeFile does around the tree walk.
type FileOptions struct {
	// Aggressive derives a scrub table from the record's own patient names
	// before they are cleared, merged with Extra.
	Aggressive bool
	// Extra scrub patterns, applied even when Aggressive is off.
	Extra scrub.Table
	// TruncateDates reduces DateTagsToTruncate to YYYYMM01.
	TruncateDates bool
}

// AnonymizeFile reads inputPath, anonymizes it with s and writes the result
// to outputPath. Pixel data is carried through unchanged.
func (s *Session) AnonymizeFile(inputPath, outputPath string, spec ReplacementSpec, opts FileOptions) (*Report, error) {
	f, err := dcm.ReadRecord(inputPath)
	if err != nil {
		return nil, err
	}

	table := opts.Extra
	if opts.Aggressive {
		table = scrub.TableFromRecord(f.Record, opts.Extra)
	}

	report, err := s.Anonymize(f.Record, spec, table)
	if err != nil {
		return nil, err
	}

	if opts.TruncateDates {
		TruncateDates(f.Record, DateTagsToTruncate)
	}

	if err := dcm.WriteRecord(outputPath, f.Record); err != nil {
		return report, err
	}
	return report, nil
}
