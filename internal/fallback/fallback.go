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

// Package fallback implements the client-side local compile supplement of
// SPEC_FULL.md §12: when a session ends in Failed(_), re-run the original
// argv against the local compiler in-process instead of surfacing a hard
// error, so a homcc invocation degrades to plain cc on any remote failure.
package fallback

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/nabbar/homcc/internal/sandbox"
)

// Result mirrors sandbox.Result so callers can treat a local fallback run
// exactly like a remote CompilationResult.
type Result = sandbox.Result

// Run executes argv locally, unconditionally (callers decide when a
// fallback is warranted, e.g. on session.Failed).
func Run(ctx context.Context, argv []string, cwd string) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, errEmptyArgv
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, err
		}
	}

	return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
