// Package util provides logging and traffic statistics shared by the daemon
// and the client.
package util

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

// logger is the process-wide logger. Output goes to stderr unless its Writer
// is replaced.
var logger = &pterm.DefaultLogger

func init() {
	logger.ShowTime = true
	logger.TimeFormat = "02 Jan 15:04:05"
	logger.MaxWidth = 1000
}

type printFunc func(msg string, args ...[]pterm.LoggerArgument)

func logf(print printFunc, format string, args []interface{}, extra ...[]pterm.LoggerArgument) {
	print(fmt.Sprintf(format, args...), extra...)
}

func LogDebug(format string, args ...interface{}) { logf(logger.Debug, format, args) }

func LogInfo(format string, args ...interface{}) { logf(logger.Info, format, args) }

// LogSuccess logs at info level, tagged so completed steps stand out from
// routine information.
func LogSuccess(format string, args ...interface{}) {
	logf(logger.Info, format, args, logger.Args("status", "ok"))
}

func LogWarning(format string, args ...interface{}) { logf(logger.Warn, format, args) }

func LogError(format string, args ...interface{}) { logf(logger.Error, format, args) }

// EnableDebug shows debug messages regardless of the configured level.
func EnableDebug() {
	logger.Level = pterm.LogLevelDebug
}

// ParseLevel maps a level name from the config file to a pterm level.
func ParseLevel(name string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// SetLevel applies a level name. Unknown names leave the level unchanged.
func SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	logger.Level = level
	return nil
}
