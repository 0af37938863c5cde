// Package logging builds the process logger. Diagnostics go to stderr so
// command output on stdout stays pipeable.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// EnvLevel names the environment variable holding the log level
const EnvLevel = "NOSTRBOX_LOG"

const DefaultLevel = log.WarnLevel

// New returns a logger writing to w at the given level name. An empty name
// selects DefaultLevel.
func New(w io.Writer, level string) (*log.Logger, error) {
	lvl := DefaultLevel
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          "nostrbox",
		Level:           lvl,
		ReportTimestamp: lvl <= log.DebugLevel,
	}), nil
}

// FromEnv reads the level from NOSTRBOX_LOG. A bad value falls back to the
// default level and says so on the returned logger.
func FromEnv(w io.Writer) *log.Logger {
	l, err := New(w, os.Getenv(EnvLevel))
	if err != nil {
		l, _ = New(w, "")
		l.Warn("ignoring "+EnvLevel, "err", err)
	}
	return l
}
