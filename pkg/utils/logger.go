package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the global logger. output is stdout, stderr or
// file; file output needs a path.
func InitLogger(level, format, output, file string) error {
	l, err := NewLogger(level, format, output, file)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// NewLogger builds a logger without touching the global one
func NewLogger(level, format, output, file string) (*logrus.Logger, error) {
	l := logrus.New()

	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(logLevel)

	switch strings.ToLower(format) {
	case "", "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	w, err := logOutput(output, file)
	if err != nil {
		return nil, err
	}
	l.SetOutput(w)
	return l, nil
}

func logOutput(output, file string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if file == "" {
			return nil, fmt.Errorf("log output file requires a path")
		}
		return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	default:
		return nil, fmt.Errorf("unknown log output %q", output)
	}
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		// Initialize with defaults if not already initialized
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}

// NewTestLogger returns a logger that discards everything, for tests
func NewTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
