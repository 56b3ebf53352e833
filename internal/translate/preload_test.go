package translate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPreload = `
patients:
  - original_patient_id: "12345"
    anonymized_patient_id: "$ABC123"
    uids:
      - original: "1.2.3"
        anonymized: "2.25.100"
      - original: "1.2.3.4"
        anonymized: "2.25.101"
  - original_patient_id: "777"
    anonymized_patient_id: "$XYZ"
    uids:
      - original: "1.9"
        anonymized: "2.25.200"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPreloadYAML(t *testing.T) {
	c := NewCache(counterSource())
	f, n, err := c.Preload(writeFile(t, "cache.yaml", yamlPreload))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, f.Patients, 2)

	// Preloaded entries behave like lazily created ones.
	got, err := c.Translate("$ABC123", "1.2.3", "12345")
	require.NoError(t, err)
	assert.Equal(t, "2.25.100", got)
	assert.Equal(t, 3, c.Len())
}

func TestPreloadJSONLastWriteWins(t *testing.T) {
	doc := `{"patients": [
		{"original_patient_id": "P1", "anonymized_patient_id": "$A", "uids": [{"original": "1.1", "anonymized": "2.25.1"}]},
		{"original_patient_id": "p1", "anonymized_patient_id": "$A", "uids": [{"original": "1.1", "anonymized": "2.25.2"}]}
	]}`
	c := NewCache(counterSource())
	_, n, err := c.Preload(writeFile(t, "cache.json", doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	got, ok := c.Lookup("$A", "1.1", "P1")
	require.True(t, ok)
	assert.Equal(t, "2.25.2", got)
}

func TestPreloadFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		c := NewCache(nil)
		_, _, err := c.Preload(filepath.Join(t.TempDir(), "nope.yaml"))
		var perr *PreloadError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, 0, c.Len())
	})

	t.Run("malformed document", func(t *testing.T) {
		c := NewCache(nil)
		_, _, err := c.Preload(writeFile(t, "bad.json", `{"patients": [`))
		require.Error(t, err)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("partial load", func(t *testing.T) {
		doc := `
patients:
  - anonymized_patient_id: "$A"
    original_patient_id: "P1"
    uids:
      - {original: "1.1", anonymized: "2.25.1"}
      - {original: "1.2", anonymized: ""}
      - {original: "1.3", anonymized: "2.25.3"}
`
		c := NewCache(nil)
		_, n, err := c.Preload(writeFile(t, "partial.yml", doc))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedEntry))
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, c.Len())

		var perr *PreloadError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, 1, perr.Loaded)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewCache(counterSource())
	_, _ = c.Translate("$A", "1.2", "p1")
	_, _ = c.Translate("$A", "1.1", "P1")
	_, _ = c.Translate("$B", "3.3", "P2")

	snap := c.Snapshot()
	require.Len(t, snap.Patients, 2)
	assert.Equal(t, "P1", snap.Patients[0].OriginalPatientID)
	assert.Equal(t, "$A", snap.Patients[0].AnonymizedPatientID)
	assert.Equal(t, "1.1", snap.Patients[0].UIDs[0].Original)
	assert.Equal(t, "1.2", snap.Patients[0].UIDs[1].Original)

	for _, name := range []string{"export.yaml", "export.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, WriteFile(path, snap))

		restored := NewCache(nil)
		_, n, err := restored.Preload(path)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, c.Entries(), restored.Entries())
	}
}
