// Package logging provides a per-component structured logger, one
// *logrus.Entry per named component, configured once from the environment.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	loggers = make(map[string]*logrus.Entry)
	base    *logrus.Logger
)

func rootLogger() *logrus.Logger {
	if base != nil {
		return base
	}

	base = logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := logrus.InfoLevel
	if raw := os.Getenv("CONDUIT_LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	base.SetLevel(level)

	return base
}

// For returns the shared logger entry for a named component, e.g.
// logging.For("bridge") or logging.For("session-manager").
func For(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}

	entry := rootLogger().WithField("component", component)
	loggers[component] = entry
	return entry
}
