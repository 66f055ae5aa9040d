package compress_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/compress"
)

func roundTrip(t *testing.T, algo compress.Algorithm, payload []byte) {
	t.Helper()

	var buf bytes.Buffer
	w, err := algo.Writer(&buf)
	require.NoError(t, err)

	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := algo.Reader(&buf)
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("short"),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 4096),
	}

	for _, algo := range []compress.Algorithm{compress.None, compress.LZO, compress.LZMA} {
		algo := algo
		for i, p := range payloads {
			p := p
			t.Run(algo.String(), func(t *testing.T) {
				_ = i
				roundTrip(t, algo, p)
			})
		}
	}
}

func TestParse(t *testing.T) {
	require.Equal(t, compress.LZO, compress.Parse("lzo"))
	require.Equal(t, compress.LZMA, compress.Parse("lzma"))
	require.Equal(t, compress.None, compress.Parse("none"))
	require.Equal(t, compress.None, compress.Parse("bogus"))
	require.True(t, compress.None.IsNone())
	require.False(t, compress.LZO.IsNone())
}
