/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package errs enumerates the error kinds the homcc core distinguishes and
// wraps them with an underlying cause, the way github.com/nabbar/golib/errors
// pairs a numeric CodeError with a message and a wrapped error.
package errs

import (
	"errors"
	"fmt"
)

// CodeError mirrors the teacher's errors.CodeError: a compact numeric kind
// that travels well across process boundaries (CLI exit codes, log fields).
type CodeError uint16

const (
	UnknownError CodeError = iota
	ProtocolOverflow
	ProtocolVersion
	ProtocolMalformed
	PeerClosed
	IntegrityError
	CacheTooLarge
	NotFound
	SandboxUnavailable
	UnsupportedArgv
	Timeout
	Refused
	ConfigError
)

var messages = map[CodeError]string{
	UnknownError:       "unknown error",
	ProtocolOverflow:   "payload exceeds configured frame cap",
	ProtocolVersion:    "unsupported protocol version",
	ProtocolMalformed:  "malformed frame header",
	PeerClosed:         "connection closed before message completed",
	IntegrityError:     "transferred file digest mismatch",
	CacheTooLarge:      "blob exceeds cache budget",
	NotFound:           "digest not present in cache",
	SandboxUnavailable: "requested sandbox profile or container unavailable",
	UnsupportedArgv:    "compiler argv cannot be rewritten for remote execution",
	Timeout:            "deadline exceeded",
	Refused:            "server saturated",
	ConfigError:        "invalid configuration",
}

// String returns the default, code-specific message.
func (c CodeError) String() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[UnknownError]
}

// ExitCode maps a CodeError onto the process exit code the CLI surfaces
// when no CompilationResult was received (see spec §6/§7). UnknownError
// still means "some failure occurred, not produced by this package" - never
// 0, since 0 would read as success to a caller checking the process exit
// status (spec §4.8/§7 require a non-zero exit on any in-job failure).
func (c CodeError) ExitCode() int {
	switch c {
	case ConfigError:
		return 1
	default:
		return 100 + int(c)
	}
}

type wrapped struct {
	code  CodeError
	cause error
}

func (e *wrapped) Error() string {
	if e.cause == nil {
		return e.code.String()
	}
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *wrapped) Unwrap() error {
	return e.cause
}

// New builds an error carrying the given kind and an optional wrapped cause.
func New(code CodeError, cause error) error {
	return &wrapped{code: code, cause: cause}
}

// Newf is a convenience constructor building the cause from a format string.
func Newf(code CodeError, format string, args ...any) error {
	return &wrapped{code: code, cause: fmt.Errorf(format, args...)}
}

// Code extracts the CodeError carried by err, or UnknownError if err was not
// produced by this package.
func Code(err error) CodeError {
	var w *wrapped
	if errors.As(err, &w) {
		return w.code
	}
	return UnknownError
}

// Is reports whether err carries the given code, walking wrapped causes.
func Is(err error, code CodeError) bool {
	return Code(err) == code
}
