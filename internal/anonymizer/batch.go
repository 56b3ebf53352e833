package anonymizer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom/pkg/tag"

	dcm "dicom-cleaner/internal/dicom"
	"dicom-cleaner/internal/identity"
	"dicom-cleaner/internal/progress"
)

// Config holds the batch anonymization configuration.
type Config struct {
	InputFolder  string
	OutputFolder string // defaults to <InputFolder>/anonymized
	MappingFile  string
	Salt         string

	// Spec is applied to every file. Its PatientID entry, if any, is
	// ignored: each patient gets its own ID from the mapper.
	Spec ReplacementSpec
	File FileOptions

	DryRun       bool
	RetryFailed  bool
	Recursive    bool
	OutputWriter func(string) // console output, fmt.Print if nil
}

// Stats holds processing statistics.
type Stats struct {
	Success         int
	Failed          int
	Skipped         int
	IdentityMatched int
	PIDMatched      int
	TotalPatients   int
	LeafErrors      int
}

// PatientGroup holds the files of one patient.
type PatientGroup struct {
	Key   string
	Name  string
	DOB   string
	PID   string
	Files []string
}

// ProgressCallback is called per file; status is one of "processing",
// "skipped", "failed" or "success".
type ProgressCallback func(current, total int, filename, status string)

// ProcessFolder anonymizes every DICOM file under cfg.InputFolder. Files of
// the same patient share one anonymized patient ID, so their UIDs are
// translated consistently through s.
func ProcessFolder(s *Session, cfg Config, progressCb ProgressCallback) (*Stats, error) {
	output := cfg.OutputWriter
	if output == nil {
		output = func(str string) { fmt.Print(str) }
	}
	if progressCb == nil {
		progressCb = func(int, int, string, string) {}
	}

	inputFolder := cfg.InputFolder
	outputFolder := cfg.OutputFolder
	if outputFolder == "" {
		outputFolder = filepath.Join(inputFolder, "anonymized")
	}

	mapper := identity.NewPatientMapper(cfg.MappingFile, cfg.Salt, s)
	s.ReservePatientIDs(mapper.AnonIDs()...)

	var (
		tracker     *progress.Tracker
		errorLogger *progress.ErrorLogger
	)
	if !cfg.DryRun {
		tracker = progress.NewTracker(filepath.Join(outputFolder, progress.FileName))
		var err error
		errorLogger, err = progress.NewErrorLogger(filepath.Join(outputFolder, "errors.log"))
		if err != nil {
			return nil, errors.Wrap(err, "could not create error logger")
		}
		defer errorLogger.Close()

		if cfg.RetryFailed {
			tracker.ClearFailed()
		}
	}

	files, err := dcm.FindFiles(inputFolder, cfg.Recursive, outputFolder)
	if err != nil {
		return nil, errors.Wrap(err, "could not find DICOM files")
	}
	if len(files) == 0 {
		output(fmt.Sprintf("No DICOM files found in %s\n", inputFolder))
		return &Stats{}, nil
	}
	output(fmt.Sprintf("Found %d DICOM file(s) in %s\n", len(files), inputFolder))

	patients := GroupFilesByPatient(files, cfg.Salt)
	output(fmt.Sprintf("Found %d unique patient(s)\n", len(patients)))

	if cfg.DryRun {
		return dryRun(patients, mapper, output)
	}

	stats := &Stats{TotalPatients: len(patients)}
	fileIndex := 0

	for i, patient := range patients {
		anonID, method, err := mapper.GetAnonID(patient.PID, patient.Name, patient.DOB)
		if err != nil {
			return stats, errors.Wrapf(err, "patient %d/%d", i+1, len(patients))
		}
		if method == identity.MatchIdentity {
			stats.IdentityMatched++
		} else {
			stats.PIDMatched++
		}

		output(fmt.Sprintf("\nProcessing Patient %d/%d\n", i+1, len(patients)))
		output(fmt.Sprintf("  Anon ID: %s (%s match)\n", anonID, method))
		output(fmt.Sprintf("  Files: %d\n", len(patient.Files)))
		log.Infof("patient %s: %d files, matched by %s", anonID, len(patient.Files), method)

		spec := cfg.Spec.With(tag.PatientID, anonID)
		patientFolder := filepath.Join(outputFolder, anonID)

		for _, filePath := range patient.Files {
			fileIndex++
			name := filepath.Base(filePath)

			if tracker.IsProcessed(filePath) {
				stats.Skipped++
				progressCb(fileIndex, len(files), name, "skipped")
				continue
			}
			progressCb(fileIndex, len(files), name, "processing")

			relPath, err := filepath.Rel(inputFolder, filePath)
			if err != nil {
				relPath = name
			}
			outputPath := filepath.Join(patientFolder, relPath)

			report, err := s.AnonymizeFile(filePath, outputPath, spec, cfg.File)
			if report != nil {
				stats.LeafErrors += len(report.LeafErrors)
			}
			if err != nil {
				stats.Failed++
				tracker.MarkError(filePath, anonID, err.Error())
				errorLogger.Log(filePath, err.Error())
				output(fmt.Sprintf("  Error: %s: %v\n", name, err))
				progressCb(fileIndex, len(files), name, "failed")
				continue
			}

			stats.Success++
			tracker.MarkSuccess(filePath, outputPath, anonID)
			progressCb(fileIndex, len(files), name, "success")
		}
	}

	if cfg.MappingFile != "" {
		if err := mapper.Save(); err != nil {
			return stats, errors.Wrap(err, "could not save mapping file")
		}
	}

	output(fmt.Sprintf("\n%s\n", strings.Repeat("=", 50)))
	output(fmt.Sprintf("Complete! %d succeeded, %d failed, %d skipped\n",
		stats.Success, stats.Failed, stats.Skipped))
	output(fmt.Sprintf("Matching: %d by Name+DOB, %d by PatientID\n",
		stats.IdentityMatched, stats.PIDMatched))
	output(fmt.Sprintf("  %s\n", errorLogger.Summary()))
	output(fmt.Sprintf("Output: %s\n", outputFolder))

	return stats, nil
}

// GroupFilesByPatient groups files by Name+DOB identity, falling back to
// PatientID. Unreadable files end up in an UNKNOWN group. Groups are
// ordered by their first file.
func GroupFilesByPatient(files []string, salt string) []*PatientGroup {
	patients := make(map[string]*PatientGroup)

	for _, filePath := range files {
		f, err := dcm.ReadRecordMetadataOnly(filePath)
		if err != nil {
			log.Warnf("could not read %s for grouping: %v", filePath, err)
			if patients["UNKNOWN"] == nil {
				patients["UNKNOWN"] = &PatientGroup{Key: "UNKNOWN"}
			}
			patients["UNKNOWN"].Files = append(patients["UNKNOWN"].Files, filePath)
			continue
		}

		name := f.PatientName()
		dob := f.PatientBirthDate()
		pid := f.PatientID()

		var key string
		if identity.IsValidIdentity(name, dob) {
			key = identity.CreateIdentityHash(name, dob, salt)
		} else {
			key = "PID:" + identity.NormalizePatientID(pid)
		}

		if patients[key] == nil {
			patients[key] = &PatientGroup{Key: key, Name: name, DOB: dob, PID: pid}
		}
		patients[key].Files = append(patients[key].Files, filePath)
	}

	result := make([]*PatientGroup, 0, len(patients))
	for _, p := range patients {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Files[0] < result[j].Files[0] })
	return result
}

func dryRun(patients []*PatientGroup, mapper *identity.PatientMapper, output func(string)) (*Stats, error) {
	output("\n[DRY RUN] Would process:\n")

	stats := &Stats{TotalPatients: len(patients)}
	for _, patient := range patients {
		anonID, method, err := mapper.GetAnonID(patient.PID, patient.Name, patient.DOB)
		if err != nil {
			return stats, err
		}
		stats.Skipped += len(patient.Files)

		if method == identity.MatchIdentity {
			stats.IdentityMatched++
			output(fmt.Sprintf("  %s <- Name+DOB (%d files) [identity match]\n", anonID, len(patient.Files)))
		} else {
			stats.PIDMatched++
			output(fmt.Sprintf("  %s <- PID '%s' (%d files) [PID fallback]\n", anonID, patient.PID, len(patient.Files)))
		}
	}

	output(fmt.Sprintf("\nMatching method: %d by identity, %d by PID\n", stats.IdentityMatched, stats.PIDMatched))
	return stats, nil
}
