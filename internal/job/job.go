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

// Package job implements the server-side job runner of spec §4.8: for each
// accepted connection, read the argument request, negotiate missing
// dependencies, materialize a per-job root directory, run the sandboxed
// compile, and report the result.
package job

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/nabbar/homcc/internal/cache"
	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/digest"
	"github.com/nabbar/homcc/internal/errs"
	"github.com/nabbar/homcc/internal/logging"
	"github.com/nabbar/homcc/internal/protocol"
	"github.com/nabbar/homcc/internal/rewrite"
	"github.com/nabbar/homcc/internal/sandbox"
)

// Runner owns the shared server-side state a job needs: the blob cache, the
// scratch root under which every job's root_dir is created, and the docker
// host used to resolve the container sandbox driver.
type Runner struct {
	Cache       *cache.Cache
	ScratchRoot string
	DockerHost  string
	Log         *logging.Logger
}

// New returns a Runner. scratchRoot defaults to os.TempDir() if empty.
func New(c *cache.Cache, scratchRoot, dockerHost string, log *logging.Logger) *Runner {
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	return &Runner{Cache: c, ScratchRoot: scratchRoot, DockerHost: dockerHost, Log: log}
}

// Handle executes the full job lifecycle for one connection's codec: steps
// 1-8 of spec §4.8. Any step failure is folded into a non-zero-exit-code
// CompilationResult rather than propagated, except for protocol-level
// failures that make further communication on this connection impossible
// (those are returned so the caller can close the connection).
func (r *Runner) Handle(ctx context.Context, codec *protocol.Codec) error {
	frame, err := codec.ReadFrame()
	if err != nil {
		return err
	}

	req, err := protocol.DecodeArgumentRequest(frame)
	if err != nil {
		return err
	}

	if err := SendDependencyRequest(codec, frame.Compression, req.DependencyHashes, r.Cache); err != nil {
		return err
	}

	if err := ReceiveDependencies(codec, r.Cache); err != nil {
		return codec.WriteCompilationResult(frame.Compression, failureResult(err))
	}

	result, teardown := r.run(ctx, req)
	defer teardown()

	return codec.WriteCompilationResult(frame.Compression, result)
}

// run performs steps 2-7 and returns both the result to send and a teardown
// closure the caller must invoke after the result is sent (step 8).
func (r *Runner) run(ctx context.Context, req *protocol.ArgumentRequest) (*protocol.CompilationResult, func()) {
	jobID := uuid.NewString()
	rootDir := filepath.Join(r.ScratchRoot, "homcc-"+jobID)

	var pinned []digest.Digest
	teardown := func() {
		for _, d := range pinned {
			r.Cache.Unpin(d)
		}
		_ = os.RemoveAll(rootDir)
	}

	rewritten, err := rewrite.Rewrite(req.Args, req.Cwd, rootDir)
	if err != nil {
		return failureResult(err), teardown
	}

	depMap := req.DependencyHashes

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return failureResult(err), teardown
	}

	for origPath, digestHex := range depMap {
		d := digest.Digest(digestHex)

		blobPath, err := r.Cache.Pin(d)
		if err != nil {
			return failureResult(err), teardown
		}
		pinned = append(pinned, d)

		target := filepath.Join(rootDir, origPath)
		if err := materialize(blobPath, target); err != nil {
			return failureResult(err), teardown
		}
	}

	drv, err := sandbox.Select(sandbox.Request{
		TargetProfile:   req.TargetProfile,
		DockerContainer: req.DockerContainer,
	}, r.DockerHost)
	if err != nil {
		return failureResult(err), teardown
	}

	sbResult, err := drv.Run(ctx, rewritten.RemoteArgv, rewritten.RemoteCwd, nil)
	if err != nil {
		return failureResult(err), teardown
	}

	objectFiles, err := collectOutputs(rootDir, rewritten.Outputs)
	if err != nil {
		// A non-zero compiler exit code (syntax error, etc.) legitimately
		// produces no object file; surface the compiler's own result rather
		// than masking it behind the missing-output error (spec §8
		// scenario 3).
		if sbResult.ExitCode == 0 {
			return failureResult(err), teardown
		}
		return &protocol.CompilationResult{
			ExitCode: uint32(sbResult.ExitCode),
			Stdout:   sbResult.Stdout,
			Stderr:   sbResult.Stderr,
		}, teardown
	}

	return &protocol.CompilationResult{
		ExitCode:    uint32(sbResult.ExitCode),
		Stdout:      sbResult.Stdout,
		Stderr:      sbResult.Stderr,
		ObjectFiles: objectFiles,
	}, teardown
}

// ReceiveDependencies reads the FileTransfer batch a client sends in
// response to a DependencyRequest, terminated by FilesSent, inserting each
// into the cache and verifying its digest.
func ReceiveDependencies(codec *protocol.Codec, c *cache.Cache) error {
	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			return err
		}
		if frame.Kind == protocol.KindFilesSent {
			return nil
		}

		ft, err := protocol.DecodeFileTransfer(frame)
		if err != nil {
			return err
		}

		want := digest.Digest(ft.Digest)
		got := digest.Of(ft.Content)
		if got != want {
			return errs.Newf(errs.IntegrityError, "digest mismatch for %s: want %s, got %s", ft.Path, want, got)
		}

		if _, err := c.Insert(want, ft.Content); err != nil {
			return err
		}
	}
}

// SendDependencyRequest computes which digests the server still needs and
// sends a DependencyRequest for them (spec §4.8 step 3).
func SendDependencyRequest(codec *protocol.Codec, algo compress.Algorithm, depMap map[string]string, c *cache.Cache) error {
	var needed []string
	for _, d := range depMap {
		if !c.Contains(digest.Digest(d)) {
			needed = append(needed, d)
		}
	}
	return codec.WriteDependencyRequest(algo, &protocol.DependencyRequest{Needed: needed})
}

func materialize(blobPath, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	if err := os.Link(blobPath, target); err == nil {
		return nil
	}

	return copyFile(blobPath, target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// collectOutputs reads each reparented output path back off disk and maps it
// to the client's original path (the inverse of rewrite.Rewrite's reparent),
// so the client writes its compiled artifact where the caller's -o actually
// pointed rather than under the server's root_dir.
func collectOutputs(rootDir string, paths []string) ([]protocol.ObjectFile, error) {
	var files []protocol.ObjectFile
	var merr *multierror.Error

	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		files = append(files, protocol.ObjectFile{Path: originalPath(p, rootDir), Content: content})
	}

	return files, merr.ErrorOrNil()
}

// originalPath strips rootDir from a reparented path, recovering the
// absolute path the client's argv originally named.
func originalPath(reparented, rootDir string) string {
	rel := strings.TrimPrefix(reparented, rootDir)
	if rel == "" {
		return string(filepath.Separator)
	}
	return rel
}

func failureResult(err error) *protocol.CompilationResult {
	code := errs.Code(err)
	return &protocol.CompilationResult{
		ExitCode: uint32(code.ExitCode()),
		Stderr:   err.Error(),
	}
}
