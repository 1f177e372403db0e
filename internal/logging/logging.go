// Package logging holds the process-wide zerolog root logger. Components
// derive scoped loggers via GetLogger so every line carries a component tag.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	rootLogger zerolog.Logger
	initOnce   sync.Once
)

func initRoot() {
	level := zerolog.InfoLevel
	if env := os.Getenv("DESKCAST_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(env)); err == nil {
			level = parsed
		}
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}
	rootLogger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// GetDefaultLogger returns the root logger.
func GetDefaultLogger() zerolog.Logger {
	initOnce.Do(initRoot)
	return rootLogger
}

// GetLogger returns a logger scoped to the named component.
func GetLogger(component string) zerolog.Logger {
	initOnce.Do(initRoot)
	return rootLogger.With().Str("component", component).Logger()
}
