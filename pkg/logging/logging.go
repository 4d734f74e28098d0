/*
Copyright 2023 Avi Zimmerman <avi.zimmerman@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging contains logging utilities for the bus and its commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging sets up logging for the application.
func SetupLogging(logLevel, logFormat string) *slog.Logger {
	log := NewLogger(logLevel, logFormat)
	slog.SetDefault(log)
	return log
}

// NewLogger returns a new logger with the given log level and format.
// If log level is empty or "silent" then the logger will be silent.
// Format is one of "text" or "json", defaulting to "text".
func NewLogger(logLevel, logFormat string) *slog.Logger {
	if logLevel == "" || strings.ToLower(logLevel) == "silent" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := &slog.HandlerOptions{
		Level: func() slog.Level {
			switch strings.ToLower(logLevel) {
			case "debug":
				return slog.LevelDebug
			case "info":
				return slog.LevelInfo
			case "warn":
				return slog.LevelWarn
			case "error":
				return slog.LevelError
			default:
				slog.Default().Warn("Invalid log level specified, defaulting to info", "log-level", logLevel)
			}
			return slog.LevelInfo
		}(),
	}
	if strings.ToLower(logFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
