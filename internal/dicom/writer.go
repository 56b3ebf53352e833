package dicom

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/suyashkumar/dicom"

	"dicom-cleaner/internal/record"
)

// WriteRecord writes rec as a DICOM file at outputPath, creating parent
// directories as needed.
func WriteRecord(outputPath string, rec *record.Record) error {
	ds, err := ToDataset(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return errors.Wrap(err, "could not create output directory")
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrap(err, "could not create output file")
	}

	// Relaxed verification: many real-world files don't strictly follow
	// the VR rules, and cleared values are written empty.
	if err := dicom.Write(file, ds,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	); err != nil {
		file.Close()
		os.Remove(outputPath)
		return errors.Wrapf(err, "could not write DICOM %s", outputPath)
	}

	return errors.Wrap(file.Close(), "could not close output file")
}
