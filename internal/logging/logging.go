// logging.go — zerolog logger construction for the bridge.
// All output goes to stderr: in streaming mode stdout carries protocol frames only.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level     string // trace|debug|info|warn|error; empty means info
	Format    string // json|console; empty means json
	DebugFile string // optional append-only tee of every log line
	Sink      io.Writer
}

// New builds the root logger. The returned closer releases the debug file, if any,
// and is always non-nil.
func New(opts Options) (zerolog.Logger, func() error, error) {
	noop := func() error { return nil }

	level := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	sink := opts.Sink
	if sink == nil {
		sink = os.Stderr
	}
	var out io.Writer = sink
	if opts.Format == "console" {
		out = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.RFC3339, NoColor: true}
	}

	closer := noop
	if opts.DebugFile != "" {
		f, err := os.OpenFile(opts.DebugFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("open debug file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f.Close
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "meter-bridge").Logger()
	return logger, closer, nil
}

// Component returns a sub-logger tagged with the component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
