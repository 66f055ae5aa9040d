/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package logging wraps logrus the way github.com/nabbar/golib/logger wraps
// it: a small Level enum parsed from configuration, and a Logger that every
// subsystem takes at construction instead of reaching for a package global.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level mirrors logger/level.Level's shape: ordered Panic..Debug plus a Nil
// sentinel, parsed case-insensitively from config/CLI strings.
type Level uint8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	NilLevel
)

func (l Level) String() string {
	switch l {
	case PanicLevel:
		return "panic"
	case FatalLevel:
		return "fatal"
	case ErrorLevel:
		return "error"
	case WarnLevel:
		return "warning"
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	default:
		return ""
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case PanicLevel:
		return logrus.PanicLevel
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// ParseLevel parses a level name, defaulting to InfoLevel for unknown input.
// An empty (or all-blank) string returns NilLevel, which New maps to debug.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "panic":
		return PanicLevel
	case "fatal":
		return FatalLevel
	case "error":
		return ErrorLevel
	case "warn", "warning":
		return WarnLevel
	case "debug":
		return DebugLevel
	case "":
		return NilLevel
	default:
		return InfoLevel
	}
}

// Logger is the contextual logging handle passed to every subsystem.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger at the given level, writing to out. verbose forces
// DebugLevel regardless of level, mirroring the homcc/homccd "verbose"
// config key which implies debug logging.
func New(level Level, verbose bool, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(level.logrus())
	}

	return &Logger{entry: logrus.NewEntry(l)}
}

// WithField returns a derived Logger carrying an additional structured field.
func (g *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: g.entry.WithField(key, value)}
}

// WithFields returns a derived Logger carrying additional structured fields.
func (g *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: g.entry.WithFields(logrus.Fields(fields))}
}

func (g *Logger) Debugf(format string, args ...any) { g.entry.Debugf(format, args...) }
func (g *Logger) Infof(format string, args ...any)  { g.entry.Infof(format, args...) }
func (g *Logger) Warnf(format string, args ...any)  { g.entry.Warnf(format, args...) }
func (g *Logger) Errorf(format string, args ...any) { g.entry.Errorf(format, args...) }

// CheckError logs err if non-nil, mirroring the teacher's logger.CheckError
// helper used throughout its cobra wiring. ErrorLevel and WarnLevel log at
// that level; every other level logs at debug.
func (g *Logger) CheckError(level Level, msg string, err error) {
	if err == nil {
		return
	}
	switch level {
	case ErrorLevel:
		g.entry.WithError(err).Error(msg)
	case WarnLevel:
		g.entry.WithError(err).Warn(msg)
	default:
		g.entry.WithError(err).Debug(msg)
	}
}
