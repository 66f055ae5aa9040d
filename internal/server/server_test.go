package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/cache"
	"github.com/nabbar/homcc/internal/job"
	"github.com/nabbar/homcc/internal/protocol"
	"github.com/nabbar/homcc/internal/server"
)

func TestServerRefusesBeyondLimit(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)
	runner := job.New(c, t.TempDir(), "", nil)

	srv := server.New("127.0.0.1:0", 1, runner, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	srv.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	// Hold one connection open without completing its handshake, to occupy
	// the server's single admitted slot indefinitely.
	blocker, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer blocker.Close()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	codec := protocol.NewCodec(conn, conn)
	frame, err := codec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.KindConnectionRefused, frame.Kind)

	refused, err := protocol.DecodeConnectionRefused(frame)
	require.NoError(t, err)
	require.NotEmpty(t, refused.Reason)
}
