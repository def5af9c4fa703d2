package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu            sync.Mutex
	defaultLogger = newLogger(os.Stderr, zerolog.InfoLevel)
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Configure replaces the root logger. Loggers already derived from the old
// root keep their writer and level.
func Configure(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = newLogger(w, ParseLevel(level))
}

// GetDefaultLogger returns the root logger
func GetDefaultLogger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := defaultLogger
	return &l
}

// GetSubsystemLogger returns a logger tagged with the component name
func GetSubsystemLogger(component string) *zerolog.Logger {
	l := GetDefaultLogger().With().Str("component", component).Logger()
	return &l
}
