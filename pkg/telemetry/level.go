package telemetry

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Level is a log severity. Levels are ordered from least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelErr
	LevelAlert
	LevelEmerg
	LevelCrit
)

var levelNames = [...]string{
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelNotice:  "notice",
	LevelWarning: "warning",
	LevelErr:     "err",
	LevelAlert:   "alert",
	LevelEmerg:   "emerg",
	LevelCrit:    "crit",
}

// ANSI colors per level on the console destination.
var levelColors = [...]string{
	LevelDebug:   "\x1b[36m",
	LevelInfo:    "\x1b[32m",
	LevelNotice:  "\x1b[34m",
	LevelWarning: "\x1b[33m",
	LevelErr:     "\x1b[35m",
	LevelAlert:   "\x1b[31m",
	LevelEmerg:   "\x1b[1;31m",
	LevelCrit:    "\x1b[1;31m",
}

const colorReset = "\x1b[0m"

// Levels returns every level in ascending severity.
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelNotice, LevelWarning, LevelErr, LevelAlert, LevelEmerg, LevelCrit}
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelCrit {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a Level.
func ParseLevel(name string) (Level, error) {
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("invalid log level: %q", name)
}

func (l Level) colorize(s string) string {
	if l < LevelDebug || l > LevelCrit {
		return s
	}
	return levelColors[l] + s + colorReset
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo, LevelNotice:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
