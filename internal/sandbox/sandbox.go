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

// Package sandbox implements the three interchangeable compiler execution
// back-ends of spec §4.9 behind one Driver.Run contract: None (direct
// process spawn), Chroot (schroot via os/exec), and Container (the Docker
// Engine API, not the docker CLI).
package sandbox

import (
	"context"

	"github.com/nabbar/homcc/internal/errs"
)

// Result is the outcome of one sandboxed compiler invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Driver executes argv with cwd and env and reports exit status plus
// captured output. Every driver treats stdin as closed.
type Driver interface {
	Run(ctx context.Context, argv []string, cwd string, env []string) (Result, error)
	Available() bool
}

// Request names which driver a given ArgumentRequest wants, mirroring the
// target_profile/docker_container fields of the wire message.
type Request struct {
	TargetProfile   string
	DockerContainer string
}

// Select resolves a Request to a concrete Driver. DockerContainer selects
// Container and takes precedence when both fields are set; TargetProfile
// alone selects Chroot; neither set selects None.
// SandboxUnavailable is returned if the selected driver cannot run here.
func Select(req Request, containerHost string) (Driver, error) {
	var d Driver

	switch {
	case req.DockerContainer != "":
		d = NewContainer(containerHost, req.DockerContainer)
	case req.TargetProfile != "":
		d = NewChroot(req.TargetProfile)
	default:
		d = NewNone()
	}

	if !d.Available() {
		return nil, errs.Newf(errs.SandboxUnavailable, "sandbox driver for profile=%q container=%q is unavailable", req.TargetProfile, req.DockerContainer)
	}
	return d, nil
}
