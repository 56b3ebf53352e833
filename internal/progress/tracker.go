// Package progress keeps the state that makes batch runs resumable.
package progress

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// FileName is the progress file kept in the output folder.
const FileName = ".progress.json"

// FileStatus is the outcome recorded for an input file.
type FileStatus string

const (
	StatusSuccess FileStatus = "success"
	StatusError   FileStatus = "error"
)

// FileEntry is the recorded outcome for one input file.
type FileEntry struct {
	Status    FileStatus `json:"status"`
	Hash      string     `json:"hash"`
	AnonID    string     `json:"anon_id,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// Summary counts entries by outcome.
type Summary struct {
	Success  int `json:"success"`
	Error    int `json:"error"`
	Total    int `json:"total"`
	Patients int `json:"patients"`
}

type trackerData struct {
	Files   map[string]*FileEntry `json:"files"`
	Updated string                `json:"updated"`
	Summary Summary               `json:"summary"`
}

// Tracker records which input files were anonymized, so an interrupted
// run picks up where it stopped. A file counts as done only while its size
// and modification time are unchanged.
type Tracker struct {
	mu           sync.Mutex
	progressFile string
	files        map[string]*FileEntry
}

// NewTracker loads progressFile if it exists. An empty path keeps progress
// in memory only.
func NewTracker(progressFile string) *Tracker {
	t := &Tracker{progressFile: progressFile, files: make(map[string]*FileEntry)}
	if progressFile == "" {
		return t
	}

	data, err := os.ReadFile(progressFile)
	if err != nil {
		return t // first run
	}
	var td trackerData
	if err := json.Unmarshal(data, &td); err != nil {
		log.Warnf("could not load progress file %s, starting over: %v", progressFile, err)
		return t
	}
	if td.Files != nil {
		t.files = td.Files
	}

	s := t.summary()
	log.Infof("loaded progress: %d succeeded, %d failed, %d patients", s.Success, s.Error, s.Patients)
	return t
}

func (t *Tracker) summary() Summary {
	s := Summary{Total: len(t.files)}
	patients := make(map[string]bool)
	for _, e := range t.files {
		switch e.Status {
		case StatusSuccess:
			s.Success++
		case StatusError:
			s.Error++
		}
		if e.AnonID != "" {
			patients[e.AnonID] = true
		}
	}
	s.Patients = len(patients)
	return s
}

// save writes through a temp file so a crash never leaves a torn file.
func (t *Tracker) save() {
	if t.progressFile == "" {
		return
	}
	if err := t.write(); err != nil {
		log.Warnf("could not save progress: %v", err)
	}
}

func (t *Tracker) write() error {
	data, err := json.MarshalIndent(trackerData{
		Files:   t.files,
		Updated: time.Now().Format(time.RFC3339),
		Summary: t.summary(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	dir := filepath.Dir(t.progressFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, FileName+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), t.progressFile)
}

// fingerprint identifies a version of an input file by size and
// modification time.
func fingerprint(filePath string) string {
	info, err := os.Stat(filePath)
	if err != nil {
		return ""
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%d", info.Size(), info.ModTime().UnixNano())))
	return fmt.Sprintf("%x", sum[:4])
}

// IsProcessed reports whether filePath was anonymized and has not changed since.
func (t *Tracker) IsProcessed(filePath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.files[filePath]
	return ok && e.Status == StatusSuccess && e.Hash == fingerprint(filePath)
}

// Entry returns the recorded outcome for filePath.
func (t *Tracker) Entry(filePath string) (FileEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.files[filePath]
	if !ok {
		return FileEntry{}, false
	}
	return *e, true
}

// MarkSuccess records that filePath was written to outputPath for anonID.
func (t *Tracker) MarkSuccess(filePath, outputPath, anonID string) {
	t.mark(filePath, &FileEntry{Status: StatusSuccess, AnonID: anonID, Output: outputPath})
}

// MarkError records a failure for filePath.
func (t *Tracker) MarkError(filePath, anonID, errorMsg string) {
	t.mark(filePath, &FileEntry{Status: StatusError, AnonID: anonID, Error: errorMsg})
}

func (t *Tracker) mark(filePath string, e *FileEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.Hash = fingerprint(filePath)
	e.Timestamp = time.Now().Format(time.RFC3339)
	t.files[filePath] = e
	t.save()
}

// ClearFailed forgets failed entries so they are retried.
func (t *Tracker) ClearFailed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for key, e := range t.files {
		if e.Status == StatusError {
			delete(t.files, key)
			count++
		}
	}
	if count > 0 {
		t.save()
		log.Infof("cleared %d failed entries for retry", count)
	}
	return count
}

// Summary returns the current counts.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary()
}
