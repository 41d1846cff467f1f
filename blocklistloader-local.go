package ndns

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileLoader reads blocklist rules from a local file.
type FileLoader struct {
	filename string
}

var _ BlocklistLoader = &FileLoader{}

func NewFileLoader(filename string) *FileLoader {
	return &FileLoader{filename}
}

func (l *FileLoader) Load() ([]string, error) {
	log := Log.WithField("file", l.filename)
	log.Debug("loading blocklist")

	f, err := os.Open(l.filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open blocklist")
	}
	defer f.Close()
	rules, err := readLines(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blocklist %s", l.filename)
	}
	log.WithFields(logrus.Fields{"rules": len(rules)}).Debug("completed loading blocklist")
	return rules, nil
}
