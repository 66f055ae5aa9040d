package session_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/digest"
	"github.com/nabbar/homcc/internal/hostconf"
	"github.com/nabbar/homcc/internal/protocol"
	"github.com/nabbar/homcc/internal/scanner"
	"github.com/nabbar/homcc/internal/session"
	"github.com/nabbar/homcc/internal/slotpool"
)

// startFakeServer listens on an ephemeral port and plays the minimal server
// half of one session: read ArgumentRequest, ask for every dependency,
// expect FileTransfer+FilesSent, then reply with a canned CompilationResult.
func startFakeServer(t *testing.T) hostconf.Host {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		codec := protocol.NewCodec(conn, conn)

		frame, err := codec.ReadFrame()
		if err != nil {
			return
		}
		argReq, err := protocol.DecodeArgumentRequest(frame)
		if err != nil {
			return
		}

		var needed []string
		for _, d := range argReq.DependencyHashes {
			needed = append(needed, d)
		}
		if err := codec.WriteDependencyRequest(compress.None, &protocol.DependencyRequest{Needed: needed}); err != nil {
			return
		}

		for {
			f, err := codec.ReadFrame()
			if err != nil {
				return
			}
			if f.Kind == protocol.KindFilesSent {
				break
			}
		}

		_ = codec.WriteCompilationResult(compress.None, &protocol.CompilationResult{
			ExitCode: 0,
			Stdout:   "ok",
		})
	}()

	return hostconf.Host{Name: "127.0.0.1", Port: port, MaxSlots: 2, Compression: compress.None}
}

func TestSessionFullRun(t *testing.T) {
	host := startFakeServer(t)
	pool := slotpool.New(t.TempDir())

	sess, err := session.Dial(context.Background(), pool, host, time.Second)
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, session.Init, sess.State)

	srcPath := t.TempDir() + "/foo.c"
	require.NoError(t, os.WriteFile(srcPath, []byte("int main(){return 0;}"), 0o644))

	result, err := sess.Run(context.Background(), session.Request{
		Args: []string{"gcc", "-c", srcPath, "-o", "foo.o"},
		Cwd:  "/tmp",
		Dependencies: &scanner.Result{
			Hashes: map[string]digest.Digest{srcPath: digest.Of([]byte("int main(){return 0;}"))},
		},
	})
	require.NoError(t, err)
	require.Equal(t, uint32(0), result.ExitCode)
	require.Equal(t, "ok", result.Stdout)
	require.Equal(t, session.Complete, sess.State)
}

func TestSessionRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		codec := protocol.NewCodec(conn, conn)
		if _, err := codec.ReadFrame(); err != nil {
			return
		}
		_ = codec.WriteConnectionRefused("at capacity")
	}()

	host := hostconf.Host{Name: "127.0.0.1", Port: port, MaxSlots: 1, Compression: compress.None}
	pool := slotpool.New(t.TempDir())

	sess, err := session.Dial(context.Background(), pool, host, time.Second)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Run(context.Background(), session.Request{
		Args:         []string{"gcc", "-c", "foo.c"},
		Cwd:          "/tmp",
		Dependencies: &scanner.Result{Hashes: map[string]digest.Digest{}},
	})
	require.Error(t, err)
	require.Equal(t, session.Failed, sess.State)
}
