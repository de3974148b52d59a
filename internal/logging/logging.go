// Package logging wraps logrus with file rotation and exposes the small
// logging surface the rest of the module uses.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = logrus.New()

// Options controls logger initialization.
type Options struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string
	// File, if set, enables rotated file output in addition to stderr.
	File string
	// MaxSizeMB is the rotation threshold for the log file.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
}

// Setup configures the shared logger. Safe to call more than once; the last
// call wins.
func Setup(opts Options) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if opts.File == "" {
		logger.SetOutput(os.Stderr)
		return
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 20
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
}

// Logger returns the shared logrus instance for callers that need the full API.
func Logger() *logrus.Logger { return logger }

func Debug(args ...any)                 { logger.Debug(args...) }
func Info(args ...any)                  { logger.Info(args...) }
func Warn(args ...any)                  { logger.Warn(args...) }
func Error(args ...any)                 { logger.Error(args...) }
func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }

// WithError returns an entry with the error attached.
func WithError(err error) *logrus.Entry { return logger.WithError(err) }

// WithField returns an entry with a single field attached.
func WithField(key string, value any) *logrus.Entry { return logger.WithField(key, value) }

// WithFields returns an entry with the given fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry { return logger.WithFields(fields) }
