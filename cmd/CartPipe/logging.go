package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// modulePrefix is trimmed from source paths in development logs.
const modulePrefix = "/CartPipe/"

// parseLogLevel maps LOG_LEVEL values to slog levels. Unknown values mean info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// newLogger returns colored tint output in development or at debug level,
// and JSON everywhere else.
func newLogger(w io.Writer, level slog.Level, environment string) *slog.Logger {
	if environment != "production" || level <= slog.LevelDebug {
		replacer := func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = cleanSourcePath(source.File)
				}
			}
			if err, ok := a.Value.Any().(error); ok {
				aErr := tint.Err(err)
				aErr.Key = a.Key
				return aErr
			}
			return a
		}
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: replacer,
			AddSource:   level <= slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func cleanSourcePath(path string) string {
	if _, rest, ok := strings.Cut(path, modulePrefix); ok {
		return rest
	}
	return path
}
