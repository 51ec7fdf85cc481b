package logging

import (
	"github.com/pion/logging"
)

var loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()

// NewLogger creates a leveled logger for scope from the package-wide factory.
// Levels are controlled by the PION_LOG_* environment variables.
func NewLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}

// Factory returns the package-wide factory, for components that accept a
// logging.LoggerFactory and need a default.
func Factory() logging.LoggerFactory {
	return loggerFactory
}
