package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	dcm "dicom-cleaner/internal/dicom"
	"dicom-cleaner/internal/record"
	"dicom-cleaner/internal/translate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	defer log.SetOutput(os.Stderr)
	color.NoColor = true

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerate(t *testing.T) {
	out, err := execute(t, "generate", "-t", "RES-##?", "-c", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	re := regexp.MustCompile(`^RES-[0-9]{2}[A-Z]$`)
	seen := map[string]bool{}
	for _, l := range lines {
		assert.Regexp(t, re, l)
		assert.False(t, seen[l], "duplicate %s", l)
		seen[l] = true
	}
}

func TestGenerateExhausted(t *testing.T) {
	_, err := execute(t, "generate", "-t", "FIXED", "-c", "2")
	assert.Error(t, err)
}

func writeStudy(t *testing.T, dir string) {
	t.Helper()
	for i, sop := range []string{"1.2.3.4.1", "1.2.3.4.2"} {
		rec := record.New(
			record.NewString(tag.MediaStorageSOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.7"),
			record.NewString(tag.MediaStorageSOPInstanceUID, "UI", sop),
			record.NewString(tag.TransferSyntaxUID, "UI", "1.2.840.10008.1.2.1"),
			record.NewString(tag.PatientName, "PN", "Smythe^Jonathan"),
			record.NewString(tag.PatientID, "LO", "12345"),
			record.NewString(tag.PatientBirthDate, "DA", "19700412"),
			record.NewString(tag.StudyInstanceUID, "UI", "1.2.3"),
			record.NewString(tag.SOPInstanceUID, "UI", sop),
			record.NewString(tag.StudyDescription, "LO", "Follow-up for Jonathan"),
		)
		require.NoError(t, dcm.WriteRecord(filepath.Join(dir, "IM"+string(rune('0'+i))+".dcm"), rec))
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in")
	writeStudy(t, input)
	export := filepath.Join(dir, "uids.yaml")

	out, err := execute(t, "run", input, "-k", "secret-key-123", "-t", "ANON-####", "--export", export)
	require.NoError(t, err)
	assert.Contains(t, out, "Complete! 2 succeeded, 0 failed, 0 skipped")

	f, err := translate.ReadFile(export)
	require.NoError(t, err)
	require.Len(t, f.Patients, 1)
	anonID := f.Patients[0].AnonymizedPatientID
	assert.Regexp(t, `^ANON-[0-9]{4}$`, anonID)

	files, err := dcm.FindFiles(filepath.Join(input, "anonymized", anonID), true, "")
	require.NoError(t, err)
	require.Len(t, files, 2)

	var studies []string
	for _, p := range files {
		got, err := dcm.ReadRecord(p)
		require.NoError(t, err)
		assert.Equal(t, anonID, got.PatientID())
		assert.Empty(t, got.PatientName())
		assert.Empty(t, got.PatientBirthDate())
		assert.NotContains(t, strings.ToLower(got.Record.GetString(tag.StudyDescription)), "jonathan")
		studies = append(studies, got.Record.GetString(tag.StudyInstanceUID))
	}
	assert.NotEqual(t, "1.2.3", studies[0])
	assert.Equal(t, studies[0], studies[1])

	_, err = os.Stat(filepath.Join(dir, "patient_mapping.json"))
	assert.NoError(t, err)

	// A second run skips what is already done.
	out, err = execute(t, "run", input, "-k", "secret-key-123")
	require.NoError(t, err)
	assert.Contains(t, out, "0 succeeded, 0 failed, 2 skipped")
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in")
	writeStudy(t, input)

	out, err := execute(t, "run", input, "-k", "k", "-n")
	require.NoError(t, err)
	assert.Contains(t, out, "[DRY RUN]")

	_, err = os.Stat(filepath.Join(input, "anonymized"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunMissingInput(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
