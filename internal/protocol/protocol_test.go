package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/protocol"
)

func TestArgumentRequestRoundTrip(t *testing.T) {
	for _, algo := range []compress.Algorithm{compress.None, compress.LZO, compress.LZMA} {
		var buf bytes.Buffer
		c := protocol.NewCodec(&buf, &buf)

		want := &protocol.ArgumentRequest{
			Args:             []string{"gcc", "-c", "foo.c"},
			Cwd:              "/home/user/project",
			DependencyHashes: map[string]string{"/usr/include/stdio.h": "abc123"},
		}

		require.NoError(t, c.WriteArgumentRequest(algo, want))

		frame, err := c.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, protocol.KindArgumentRequest, frame.Kind)
		require.Equal(t, algo, frame.Compression)

		got, err := protocol.DecodeArgumentRequest(frame)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestFileTransferRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := protocol.NewCodec(&buf, &buf)

	want := &protocol.FileTransfer{
		Path:    "/usr/include/stdio.h",
		Digest:  "deadbeef",
		Content: bytes.Repeat([]byte{0x42}, 4096),
	}

	require.NoError(t, c.WriteFileTransfer(compress.LZMA, want))

	frame, err := c.ReadFrame()
	require.NoError(t, err)

	got, err := protocol.DecodeFileTransfer(frame)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFilesSentMarker(t *testing.T) {
	var buf bytes.Buffer
	c := protocol.NewCodec(&buf, &buf)

	require.NoError(t, c.WriteFilesSent())

	frame, err := c.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.KindFilesSent, frame.Kind)
	require.Empty(t, frame.Payload)
}

func TestProtocolOverflow(t *testing.T) {
	var buf bytes.Buffer
	c := protocol.NewCodec(&buf, &buf).WithMaxPayload(8)

	require.NoError(t, c.WriteArgumentRequest(compress.None, &protocol.ArgumentRequest{
		Args: []string{"gcc", "-c", "foo.c", "-I/usr/include"},
	}))

	_, err := c.ReadFrame()
	require.Error(t, err)
}

func TestPeerClosedMidFrame(t *testing.T) {
	var buf bytes.Buffer
	c := protocol.NewCodec(&buf, &buf)

	require.NoError(t, c.WriteArgumentRequest(compress.None, &protocol.ArgumentRequest{
		Args: []string{"gcc", "-c", "foo.c"},
	}))

	full := buf.Bytes()
	truncated := bytes.NewReader(full[:len(full)-2])
	c2 := protocol.NewCodec(truncated, &bytes.Buffer{})

	_, err := c2.ReadFrame()
	require.Error(t, err)
}

func TestBadMagic(t *testing.T) {
	data := make([]byte, 16)
	copy(data, "XXXX")
	c := protocol.NewCodec(bytes.NewReader(data), &bytes.Buffer{})
	_, err := c.ReadFrame()
	require.Error(t, err)
}
