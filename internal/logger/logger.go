// Package logger provides the configured zerolog logger for the runtime.
package logger

import (
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

// New returns a JSON logger tagged with the component name.
// Call sites should use .Stack() on error events to include stacks.
func New(component string) zerolog.Logger {
	// Wire zerolog to github.com/pkg/errors so error events can render
	// stack traces even when the wrapped error is a plain std error.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); ok {
			return err
		}
		return pkgerrors.WithStack(err)
	}

	return zerolog.New(os.Stdout).With().
		Str("service", component).
		Timestamp().
		Logger()
}

// NewWithLevel returns a component logger with an explicit minimum level,
// used by the CLI where debug output is opt-in.
func NewWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return New(component).Level(level)
}
