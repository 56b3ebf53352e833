package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrorEntry is one failed file.
type ErrorEntry struct {
	File      string
	Error     string
	Timestamp time.Time
}

// ErrorLogger records failed files to a rotating log, one line per file.
type ErrorLogger struct {
	mu      sync.Mutex
	logFile string
	errors  []ErrorEntry
	sink    *lumberjack.Logger
	logger  *log.Logger
}

// lineFormatter writes "time | file | message".
type lineFormatter struct{}

func (lineFormatter) Format(e *log.Entry) ([]byte, error) {
	file, _ := e.Data["file"].(string)
	return []byte(fmt.Sprintf("%s | %s | %s\n", e.Time.Format(time.RFC3339), file, e.Message)), nil
}

// NewErrorLogger creates an error logger. An empty logFile keeps entries
// in memory only.
func NewErrorLogger(logFile string) (*ErrorLogger, error) {
	l := &ErrorLogger{logFile: logFile}
	if logFile == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, errors.Wrap(err, "could not create log directory")
	}

	l.sink = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		Compress:   false,
	}
	l.logger = log.New()
	l.logger.SetOutput(l.sink)
	l.logger.SetFormatter(lineFormatter{})
	return l, nil
}

// Log records an error for a file.
func (l *ErrorLogger) Log(filePath, errorMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ErrorEntry{File: filePath, Error: errorMsg, Timestamp: time.Now()}
	l.errors = append(l.errors, entry)

	if l.logger != nil {
		l.logger.WithTime(entry.Timestamp).
			WithField("file", filepath.Base(filePath)).
			Error(errorMsg)
	}
}

// Entries returns a copy of the logged entries.
func (l *ErrorLogger) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.errors...)
}

// Summary returns a summary of logged errors.
func (l *ErrorLogger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.errors) == 0 {
		return "No errors"
	}
	return fmt.Sprintf("%d errors logged to %s", len(l.errors), l.logFile)
}

// ErrorCount returns the number of logged errors.
func (l *ErrorLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// Close closes the log file.
func (l *ErrorLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
