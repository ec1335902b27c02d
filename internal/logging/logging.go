// Package logging owns the single process-wide logging level and hands
// out component-scoped entries. It is the one piece of global mutable
// state the core's concurrency model permits outright.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the process-wide verbosity. level follows the
// -d<level> CLI convention: 0 critical, 1 warn, 2 info, 3 debug, 4+ trace.
func SetLevel(level int) {
	switch {
	case level <= 0:
		root.SetLevel(logrus.ErrorLevel)
	case level == 1:
		root.SetLevel(logrus.WarnLevel)
	case level == 2:
		root.SetLevel(logrus.InfoLevel)
	case level == 3:
		root.SetLevel(logrus.DebugLevel)
	default:
		root.SetLevel(logrus.TraceLevel)
	}
}

// For returns a logger entry scoped to the named component, e.g.
// For("advertising-proxy").
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}
