// Package logging builds the process-wide JSON logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"webmapapi/internal/config"
)

// New returns a JSON logger writing one object per line to w.
// Timestamps are rendered in loc under the "ts" key.
func New(w io.Writer, loc *time.Location) *logrus.Logger {
	if loc == nil {
		loc = time.UTC
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&locationFormatter{
		loc: loc,
		next: &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		},
	})
	return log
}

// FromConfig builds the application logger: stdout always, plus a rotating
// file when cfg.File is set.
func FromConfig(cfg config.LogConfig, loc *time.Location) *logrus.Logger {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
		})
	}

	log := New(w, loc)
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

type locationFormatter struct {
	loc  *time.Location
	next logrus.Formatter
}

// Format implements logrus.Formatter.
func (f *locationFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.In(f.loc)
	return f.next.Format(entry)
}
