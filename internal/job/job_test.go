package job_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/cache"
	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/digest"
	"github.com/nabbar/homcc/internal/job"
	"github.com/nabbar/homcc/internal/protocol"
)

const fakeCompilerScript = `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then out="$arg"; fi
  prev="$arg"
done
echo "compiled ok"
touch "$out"
exit 0
`

func writeFakeCompiler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakecc")
	require.NoError(t, os.WriteFile(path, []byte(fakeCompilerScript), 0o755))
	return path
}

func TestRunnerHandleFullLifecycle(t *testing.T) {
	fakecc := writeFakeCompiler(t)

	c, err := cache.Open(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)

	scratch := t.TempDir()
	r := job.New(c, scratch, "", nil)

	srcContent := []byte("int main(){return 0;}")
	srcDigest := digest.Of(srcContent)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		codec := protocol.NewCodec(serverConn, serverConn)
		serverDone <- r.Handle(context.Background(), codec)
	}()

	clientCodec := protocol.NewCodec(clientConn, clientConn)

	cwd := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(cwd, 0o755))
	srcPath := filepath.Join(cwd, "foo.c")

	req := &protocol.ArgumentRequest{
		Args:             []string{fakecc, "-c", srcPath, "-o", filepath.Join(cwd, "foo.o")},
		Cwd:              cwd,
		DependencyHashes: map[string]string{srcPath: string(srcDigest)},
	}
	require.NoError(t, clientCodec.WriteArgumentRequest(compress.None, req))

	frame, err := clientCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.KindDependencyRequest, frame.Kind)

	depReq, err := protocol.DecodeDependencyRequest(frame)
	require.NoError(t, err)
	require.Contains(t, depReq.Needed, string(srcDigest))

	require.NoError(t, clientCodec.WriteFileTransfer(compress.None, &protocol.FileTransfer{
		Path:    srcPath,
		Digest:  string(srcDigest),
		Content: srcContent,
	}))
	require.NoError(t, clientCodec.WriteFilesSent())

	resultFrame, err := clientCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.KindCompilationResult, resultFrame.Kind)

	result, err := protocol.DecodeCompilationResult(resultFrame)
	require.NoError(t, err)
	require.Equal(t, uint32(0), result.ExitCode)
	require.Contains(t, result.Stdout, "compiled ok")
	require.Len(t, result.ObjectFiles, 1)
	require.Equal(t, filepath.Join(cwd, "foo.o"), result.ObjectFiles[0].Path,
		"the client must receive its own -o path back, not the server's root_dir path")

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server Handle did not complete")
	}
}

const failingCompilerScript = `#!/bin/sh
echo "foo.c:1:1: error: expected ';'" 1>&2
exit 1
`

func writeFailingCompiler(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "failcc")
	require.NoError(t, os.WriteFile(path, []byte(failingCompilerScript), 0o755))
	return path
}

// TestRunnerHandleCompileErrorSurfacesExitCode covers spec §8 scenario 3: a
// legitimately failed compile (no object file written) must surface the
// compiler's own non-zero exit code and stderr, not a generic failure result.
func TestRunnerHandleCompileErrorSurfacesExitCode(t *testing.T) {
	failcc := writeFailingCompiler(t)

	c, err := cache.Open(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)

	scratch := t.TempDir()
	r := job.New(c, scratch, "", nil)

	srcContent := []byte("int main(){return 0}")
	srcDigest := digest.Of(srcContent)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		codec := protocol.NewCodec(serverConn, serverConn)
		serverDone <- r.Handle(context.Background(), codec)
	}()

	clientCodec := protocol.NewCodec(clientConn, clientConn)

	cwd := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(cwd, 0o755))
	srcPath := filepath.Join(cwd, "foo.c")

	req := &protocol.ArgumentRequest{
		Args:             []string{failcc, "-c", srcPath, "-o", filepath.Join(cwd, "foo.o")},
		Cwd:              cwd,
		DependencyHashes: map[string]string{srcPath: string(srcDigest)},
	}
	require.NoError(t, clientCodec.WriteArgumentRequest(compress.None, req))

	frame, err := clientCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.KindDependencyRequest, frame.Kind)

	require.NoError(t, clientCodec.WriteFileTransfer(compress.None, &protocol.FileTransfer{
		Path:    srcPath,
		Digest:  string(srcDigest),
		Content: srcContent,
	}))
	require.NoError(t, clientCodec.WriteFilesSent())

	resultFrame, err := clientCodec.ReadFrame()
	require.NoError(t, err)

	result, err := protocol.DecodeCompilationResult(resultFrame)
	require.NoError(t, err)
	require.Equal(t, uint32(1), result.ExitCode)
	require.Contains(t, result.Stderr, "error:")
	require.Empty(t, result.ObjectFiles)

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server Handle did not complete")
	}
}
