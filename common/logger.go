// Package common provides the shared logging infrastructure for the DevLens
// services. It is built on logrus for structured logging, with output routing
// that sends error-level messages to stderr and everything else to stdout so
// containerized deployments can treat the two streams differently.
package common

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. Configure replaces its level, format and
// output; packages that cannot be handed a logger explicitly may use it
// directly.
var Logger = logrus.New()

// LoggerConfig controls how Configure sets up a logger.
type LoggerConfig struct {
	Level   string // debug, info, warn, error
	Format  string // json or text
	Service string // service name attached to every entry
}

// Configure applies cfg to the shared Logger and returns an entry carrying the
// service field.
func Configure(cfg LoggerConfig) *logrus.Entry {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "warn":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	default:
		Logger.SetLevel(logrus.InfoLevel)
	}

	if strings.EqualFold(cfg.Format, "text") {
		Logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	Logger.SetOutput(&OutputSplitter{})

	if cfg.Service != "" {
		return Logger.WithField("service", cfg.Service)
	}
	return logrus.NewEntry(Logger)
}

// OutputSplitter routes error-level log lines to stderr and the rest to
// stdout. It matches the formatted output of both the text and JSON logrus
// formatters.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}
