package errutil

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// MustParseInt parses an int or logs the error and returns 0.
// The context parameter provides information about where the parse occurred.
func MustParseInt(logger *zerolog.Logger, s string, context string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		logger.Debug().Err(err).Str("context", context).Str("input", s).Msg("parse int failed")
		return 0
	}
	return i
}

// LogError logs non-critical errors with context. It returns true if err was non-nil.
func LogError(logger *zerolog.Logger, context string, err error) bool {
	if err == nil {
		return false
	}
	logger.Warn().Err(err).Str("context", context).Msg("operation failed")
	return true
}
