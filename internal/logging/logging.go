// Package logging builds the zerolog.Logger handed down from the
// composition root to every component (spec.md §9 design note against
// package-level logger singletons). It replaces the teacher's
// "[component] message" log.Printf convention with structured
// "component" fields of the same name.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a logger writing to w (or os.Stderr if nil). When w is a
// terminal, output is human-readable console format; otherwise it is
// newline-delimited JSON, matching the teacher's convention of plain
// text on an interactive console and machine-parseable output when
// redirected.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var out io.Writer = w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component
// name, mirroring the teacher's "[component]" log prefixes.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
