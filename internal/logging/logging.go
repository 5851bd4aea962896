// Package logging builds the daemon's logrus logger.
package logging

import (
	"io"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New returns a root entry at the named level ("debug", "info", ...), using
// the prefixed text formatter. Components add a "prefix" field to identify
// themselves.
func New(level string, out io.Writer) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	logrus.ErrorKey = "$error"
	logger := logrus.New()
	logger.SetLevel(lvl)
	if out != nil {
		logger.SetOutput(out)
	}
	f := new(prefixed.TextFormatter)
	f.TimestampFormat = "2006-01-02 15:04:05"
	f.FullTimestamp = true
	f.SpacePadding = 40
	logger.SetFormatter(f)
	return logrus.NewEntry(logger), nil
}

// Component returns a child entry tagged with the component's prefix.
func Component(log *logrus.Entry, name string) *logrus.Entry {
	return log.WithField("prefix", name)
}
