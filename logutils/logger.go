// Package logutils builds the analyzer's zerolog logger.
package logutils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/volary-ai/analyzer-agent/errors"
)

// New returns a logger at the given level (debug, info, warn, error). Logs
// are written as JSON to file when it is set, and in console format to stderr
// otherwise, leaving stdout to the command's results.
func New(level, file string) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, closer, errors.Wrapf(err, "invalid log level")
	}

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Logger{}, closer, errors.Wrapf(err, "create logs dir")
		}
		f, err := os.Create(file)
		if err != nil {
			return zerolog.Logger{}, closer, errors.Wrapf(err, "create log file")
		}
		closer = func() { _ = f.Close() }
		writer = f
	}

	l := zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	return l, closer, nil
}
