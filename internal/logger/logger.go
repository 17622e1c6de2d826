// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
)

// sourceDepth is the number of trailing path elements kept in the source
// attribute of text logs: two directories and the file name
const sourceDepth = 3

var level = new(slog.LevelVar)

// New returns a logger writing to w in the given format ("text" or "json").
// It panics on an unknown format since that is a programming error caught by
// config validation.
func New(lvl, format string, w io.Writer) *slog.Logger {
	level.Set(parseLogLevel(lvl))
	return slog.New(handlerForFormat(format, w))
}

// LogLevel returns the level of the last logger created with New
func LogLevel() slog.Level {
	return level.Level()
}

// SetLevel changes the level of every logger created with New
func SetLevel(lvl string) {
	level.Set(parseLogLevel(lvl))
}

func handlerForFormat(format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		opts.ReplaceAttr = shortenSource
		return slog.NewTextHandler(w, opts)
	default:
		panic(fmt.Sprintf("invalid format: %s", format))
	}
}

func shortenSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		src.File = shortPath(src.File)
	}
	return a
}

func shortPath(file string) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) > sourceDepth {
		parts = parts[len(parts)-sourceDepth:]
	}
	return path.Join(parts...)
}

func parseLogLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
