package dicom

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/record"
)

// File is a record read from disk.
type File struct {
	Path   string
	Record *record.Record
}

// ReadRecord reads and converts a DICOM file, including pixel data.
func ReadRecord(path string) (*File, error) {
	return readRecord(path)
}

// ReadRecordMetadataOnly reads a DICOM file without its pixel data. The
// result is for inspection only; writing it back would lose the image.
func ReadRecordMetadataOnly(path string) (*File, error) {
	return readRecord(path, dicom.SkipPixelData())
}

func readRecord(path string, opts ...dicom.ParseOption) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "could not stat file")
	}

	ds, err := dicom.Parse(f, info.Size(), nil, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse DICOM %s", path)
	}

	rec, err := FromDataset(ds)
	if err != nil {
		return nil, errors.Wrapf(err, "could not convert %s", path)
	}
	return &File{Path: path, Record: rec}, nil
}

func (f *File) PatientID() string        { return f.Record.GetString(tag.PatientID) }
func (f *File) PatientName() string      { return f.Record.GetString(tag.PatientName) }
func (f *File) PatientBirthDate() string { return f.Record.GetString(tag.PatientBirthDate) }
func (f *File) Modality() string         { return f.Record.GetString(tag.Modality) }
func (f *File) TransferSyntax() string   { return f.Record.GetString(tag.TransferSyntaxUID) }
