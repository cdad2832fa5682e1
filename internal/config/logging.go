package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// NewLogger configures a *log.Logger that writes to both stdout and
// logFile, creating the log file's directory if necessary. Mirrors the
// teacher's SetupLogging (io.MultiWriter of stdout + an appended file,
// std flags plus microsecond timestamps).
func NewLogger(logFile string) (*log.Logger, error) {
	if logFile == "" {
		logFile = DefaultLogFile
	}

	if dir := filepath.Dir(logFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	mw := io.MultiWriter(os.Stdout, f)
	return log.New(mw, "", log.LstdFlags|log.Lmicroseconds), nil
}
