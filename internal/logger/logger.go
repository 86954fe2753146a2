package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs a zerolog logger for the runtime environment: human
// readable console output in development, JSON everywhere else.
func New(env, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.DurationFieldUnit = time.Millisecond

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "dev") {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
		return zerolog.New(cw).With().Timestamp().Logger().Level(lvl), nil
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl), nil
}
