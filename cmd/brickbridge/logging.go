// cmd/brickbridge/logging.go
package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// newLogger builds the process logger. Flags win over config values.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(orDefault(level, "info")))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(orDefault(format, "text")) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", format)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
