// Package agentlog sets up the daemon's structured logger, grounded on
// the level/format configuration pattern in cmd/dex/logger.go, using
// logrus rather than log/slog to match connector/oidc's field-logger
// idiom used throughout the flow engine.
package agentlog

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger from a level string ("debug", "info",
// "warning", "error") and a format ("text" or "json").
func New(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("agentlog: invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("agentlog: unsupported log format %q", format)
	}

	return log, nil
}
