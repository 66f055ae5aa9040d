package hostconf_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/hostconf"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want hostconf.Host
	}{
		{"localhost", hostconf.Host{Name: "localhost", Port: 3633, MaxSlots: 2, Compression: compress.None}},
		{"buildhost:3633/8", hostconf.Host{Name: "buildhost", Port: 3633, MaxSlots: 8, Compression: compress.None}},
		{"buildhost/4,lzo", hostconf.Host{Name: "buildhost", Port: 3633, MaxSlots: 4, Compression: compress.LZO}},
		{"buildhost:4000,lzma", hostconf.Host{Name: "buildhost", Port: 4000, MaxSlots: 2, Compression: compress.LZMA}},
		{"[::1]:3633/2,lzma", hostconf.Host{Name: "::1", Port: 3633, MaxSlots: 2, Compression: compress.LZMA}},
		{"[fe80::1]", hostconf.Host{Name: "fe80::1", Port: 3633, MaxSlots: 2, Compression: compress.None}},
	}

	for _, c := range cases {
		got, err := hostconf.ParseLine(c.line)
		require.NoError(t, err, c.line)
		require.Equal(t, c.want.Name, got.Name, c.line)
		require.Equal(t, c.want.Port, got.Port, c.line)
		require.Equal(t, c.want.MaxSlots, got.MaxSlots, c.line)
		require.Equal(t, c.want.Compression, got.Compression, c.line)
	}
}

func TestParseLineErrors(t *testing.T) {
	bad := []string{"", "host/0", "host/abc", "host,weird-compression", "[unterminated"}
	for _, line := range bad {
		_, err := hostconf.ParseLine(line)
		require.Error(t, err, line)
	}
}

func TestParseFile(t *testing.T) {
	data := `
# comment line
hostA:3633/2
hostB/4,lzo

hostC,lzma
`
	hosts, err := hostconf.Parse(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	require.Equal(t, "hostA", hosts[0].Name)
	require.Equal(t, "hostB", hosts[1].Name)
	require.Equal(t, "hostC", hosts[2].Name)
}
