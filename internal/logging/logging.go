// Package logging builds the zerolog loggers used across the module.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var output io.Writer = os.Stderr

// New returns a logger tagged with component. ERCRD_ENV=dev selects the
// human readable console writer; anything else logs JSON.
func New(component string) zerolog.Logger {
	var w io.Writer = output
	if strings.ToLower(os.Getenv("ERCRD_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// SetLevel sets the global level from a name such as "debug" or "warn".
// An empty name leaves the level unchanged.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// SetOutput redirects loggers created afterwards.
func SetOutput(w io.Writer) {
	output = w
}
