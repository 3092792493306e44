// Package logging builds the zerolog logger shared by every binary.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger at level. Local environments get a human readable
// console writer; everything else logs JSON to stdout.
func New(level, environment string) zerolog.Logger {
	return newWithWriter(os.Stdout, level, environment)
}

func newWithWriter(w io.Writer, level, environment string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if environment == "local" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "vaultsign").Logger()
}
