// Package logging sets up structured JSON logging for engramd and hands
// out component-scoped entries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init configures the global logrus instance: JSON output to stdout at the
// given level. Unknown level strings fall back to info.
func Init(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}

	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(parsed)
}

// Component returns an entry tagged with the component name, so every line
// from one subsystem is filterable.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
