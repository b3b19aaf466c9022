// Package common provides bqm2-engine's shared logging and CLI-diagnostic
// utilities: a stream-splitting logrus writer plus a context-aware logger
// built on it, used by the executor, loader, and companion API alike.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted entries to stderr when they carry
// "level=error" and to stdout otherwise, so a shell invoking bqm2 can
// redirect error output independently of progress logging.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logrus instance every CLI mode and executor
// component logs through.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
