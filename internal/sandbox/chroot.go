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

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

var errDriverEmptyArgv = errors.New("sandbox: empty argv")

// chrootDriver runs the compiler inside a named schroot profile.
type chrootDriver struct {
	profile string
}

// NewChroot returns a driver that shells out to `schroot -c <profile>`.
func NewChroot(profile string) Driver {
	return chrootDriver{profile: profile}
}

func (c chrootDriver) Available() bool {
	if c.profile == "" {
		return false
	}
	if _, err := exec.LookPath("schroot"); err != nil {
		return false
	}
	return exec.Command("schroot", "--info", "-c", c.profile).Run() == nil
}

func (c chrootDriver) Run(ctx context.Context, argv []string, cwd string, env []string) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, errDriverEmptyArgv
	}

	full := append([]string{"schroot", "-c", c.profile, "-d", cwd, "--"}, argv...)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Env = env
	cmd.Stdin = nil

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

	return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: strings.TrimRight(stderr.String(), "")}, nil
}
