// Package util provides shared logging and traffic statistics helpers.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// LogFile describes a rotating log file that mirrors console output.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SetLogFile tees all log output to a rotating file. An empty path leaves
// the logger writing to stderr only. The returned closer flushes and closes
// the file.
func SetLogFile(f LogFile) io.Closer {
	if f.Path == "" {
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    orDefault(f.MaxSizeMB, 10),
		MaxBackups: orDefault(f.MaxBackups, 1),
		MaxAge:     orDefault(f.MaxAgeDays, 7),
		Compress:   f.Compress,
	}
	pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, rotator)
	return rotator
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
