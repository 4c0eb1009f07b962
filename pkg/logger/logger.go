// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process-wide structured logger for kestrel.
//
// The package keeps a single *slog.Logger behind an atomic pointer so that
// handlers and services can log without threading a logger through every
// constructor. New code that wants an injectable logger should call [Get]
// and hold the result.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(newLogger(false))
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	// Human-readable output on a terminal, JSON everywhere else.
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Initialize sets up the process logger. Safe to call more than once;
// the last call wins.
func Initialize(debug bool) {
	singleton.Store(newLogger(debug))
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// Set replaces the singleton logger. This is intended for tests that need to
// capture log output; production code should use [Initialize] instead.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debug logs a message at debug level using the singleton logger.
func Debug(msg string) { get().Debug(msg) }

// Debugf logs a formatted message at debug level using the singleton logger.
func Debugf(msg string, args ...any) { get().Debug(fmt.Sprintf(msg, args...)) }

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) { get().Debug(msg, keysAndValues...) }

// Info logs a message at info level using the singleton logger.
func Info(msg string) { get().Info(msg) }

// Infof logs a formatted message at info level using the singleton logger.
func Infof(msg string, args ...any) { get().Info(fmt.Sprintf(msg, args...)) }

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) { get().Info(msg, keysAndValues...) }

// Warn logs a message at warn level using the singleton logger.
func Warn(msg string) { get().Warn(msg) }

// Warnf logs a formatted message at warn level using the singleton logger.
func Warnf(msg string, args ...any) { get().Warn(fmt.Sprintf(msg, args...)) }

// Warnw logs a message at warn level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) { get().Warn(msg, keysAndValues...) }

// Error logs a message at error level using the singleton logger.
func Error(msg string) { get().Error(msg) }

// Errorf logs a formatted message at error level using the singleton logger.
func Errorf(msg string, args ...any) { get().Error(fmt.Sprintf(msg, args...)) }

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) { get().Error(msg, keysAndValues...) }
