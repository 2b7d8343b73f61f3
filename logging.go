package coopipc

import (
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// zeroLogger is a thin alias so callers configuring a Process don't need to
// import zerolog themselves just to pass WithLogger a *zerolog.Logger.
type zeroLogger = zerolog.Logger

// nopLogger is what every Process falls back to when no WithLogger option
// is given — the same zerolog.Nop() default the teacher's Options types use
// (pipe.DefaultOptions, speaker.DefaultOptions).
func nopLogger() zeroLogger {
	return zerolog.Nop()
}

// NewLogger builds a zerolog.Logger for CLI use: pretty console output when
// pretty is true and stderr is a terminal (detected via
// github.com/mattn/go-isatty, following zerolog's own recommended
// ConsoleWriter pattern), otherwise plain JSON to stderr.
func NewLogger(pretty bool) zerolog.Logger {
	if pretty && isatty.IsTerminal(os.Stderr.Fd()) {
		cw := zerolog.ConsoleWriter{Out: colorable.NewColorableStderr(), TimeFormat: time.RFC3339}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
