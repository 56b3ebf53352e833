// Package logging routes logrus output to a rotating file.
package logging

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file written under the log directory.
const FileName = "dicom-cleaner.log"

// Formatter writes one line per entry:
//
//	2026-03-23 12:16:42 INFO batch.go:27 patient $123456: 4 files
type Formatter struct{}

func (Formatter) Format(entry *log.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	caller := "-"
	if entry.HasCaller() {
		caller = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	msg := fmt.Sprintf("%s %s %s %s\n",
		entry.Time.Format("2006-01-02 15:04:05"), level, caller, entry.Message)
	return []byte(msg), nil
}

// Init sends the standard logger to <logDir>/dicom-cleaner.log at the given
// level. An empty logDir discards log output.
func Init(logDir, level string) error {
	lvl := log.InfoLevel
	if level != "" {
		var err error
		lvl, err = log.ParseLevel(level)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
	}
	log.SetLevel(lvl)

	if logDir == "" {
		log.SetOutput(io.Discard)
		return nil
	}

	// lumberjack creates the directory and file on first write.
	log.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    50, // MB
		MaxBackups: 5,
	})
	log.SetReportCaller(true)
	log.SetFormatter(Formatter{})
	log.Info("Logging initialised.")
	return nil
}
