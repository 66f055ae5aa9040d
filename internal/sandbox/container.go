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
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

const dockerProbeTimeout = 2 * time.Second

// containerDriver runs the compiler inside a named, already-running
// container via the Docker Engine API (ContainerExecCreate/Attach/Inspect),
// rather than shelling out to the docker binary: this gives exact exit-code
// and stdout/stderr capture semantics instead of parsing a subprocess.
type containerDriver struct {
	host      string
	container string
}

// NewContainer returns a driver bound to containerName, dialing the Docker
// daemon at host (empty uses the client's default, DOCKER_HOST-aware, dial).
func NewContainer(host, containerName string) Driver {
	return containerDriver{host: host, container: containerName}
}

func (c containerDriver) newClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.host != "" {
		opts = append(opts, client.WithHost(c.host))
	}
	return client.NewClientWithOpts(opts...)
}

func (c containerDriver) Available() bool {
	if c.container == "" {
		return false
	}

	cli, err := c.newClient()
	if err != nil {
		return false
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()

	_, err = cli.ContainerInspect(ctx, c.container)
	return err == nil
}

func (c containerDriver) Run(ctx context.Context, argv []string, cwd string, env []string) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, errDriverEmptyArgv
	}

	cli, err := c.newClient()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	defer cli.Close()

	execCfg := types.ExecConfig{
		Cmd:          argv,
		Env:          env,
		WorkingDir:   cwd,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := cli.ContainerExecCreate(ctx, c.container, execCfg)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	attached, err := cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		demuxStream(attached.Reader, &stdout, &stderr)
	}()
	wg.Wait()

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, err
	}

	return Result{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// demuxStream copies a hijacked exec stream into separate stdout/stderr
// sinks. The Docker exec API multiplexes both streams over one connection
// when Tty is false, using an 8-byte frame header per chunk.
func demuxStream(r io.Reader, stdout, stderr io.Writer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}

		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			return
		}
	}
}
