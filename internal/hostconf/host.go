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

// Package hostconf parses the HOMCC hosts file grammar
// (HOST[:PORT][/LIMIT][,COMPRESSION]) and discovers the hosts file per the
// lookup order in spec §6.
package hostconf

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/errs"
)

// ConnectionKind distinguishes a plain remote TCP host from one reached over
// a local TCP loopback (e.g. an SSH port-forward already established).
type ConnectionKind uint8

const (
	TCP ConnectionKind = iota
	LocalTCP
)

const (
	DefaultPort     = 3633
	DefaultMaxSlots = 2
)

// Host is one parsed, immutable entry from a hosts file.
type Host struct {
	Name           string
	Port           int
	MaxSlots       int
	Compression    compress.Algorithm
	ConnectionKind ConnectionKind
}

// Addr returns the dial address for this host ("name:port", IPv6 bracketed).
func (h Host) Addr() string {
	return net.JoinHostPort(h.Name, strconv.Itoa(h.Port))
}

// Key returns the deterministic string used to name this host's slot
// semaphore: identical hosts strings on the same machine must share a
// counter (spec §3, "Slot reservation").
func (h Host) Key() string {
	return fmt.Sprintf("%s:%d", h.Name, h.Port)
}

// Parse parses the in-memory contents of a hosts file into an ordered list
// of Host records, skipping blank lines and "#" comments.
func Parse(r io.Reader) ([]Host, error) {
	var hosts []Host

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		h, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return hosts, nil
}

// ParseLine parses a single "HOST[:PORT][/LIMIT][,COMPRESSION]" entry.
func ParseLine(line string) (Host, error) {
	h := Host{Port: DefaultPort, MaxSlots: DefaultMaxSlots, Compression: compress.None, ConnectionKind: TCP}

	rest := line
	if idx := strings.IndexByte(rest, ','); idx >= 0 {
		comp := strings.TrimSpace(rest[idx+1:])
		rest = rest[:idx]

		switch comp {
		case "lzo":
			h.Compression = compress.LZO
		case "lzma":
			h.Compression = compress.LZMA
		default:
			return Host{}, errs.Newf(errs.ConfigError, "unknown compression %q in host entry %q", comp, line)
		}
	}

	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		limitStr := rest[idx+1:]
		rest = rest[:idx]

		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return Host{}, errs.Newf(errs.ConfigError, "invalid slot limit %q in host entry %q", limitStr, line)
		}
		h.MaxSlots = limit
	}

	name, port, err := splitHostPort(rest)
	if err != nil {
		return Host{}, errs.New(errs.ConfigError, err)
	}
	h.Name = name
	if port > 0 {
		h.Port = port
	}

	if h.Name == "" {
		return Host{}, errs.Newf(errs.ConfigError, "empty host name in entry %q", line)
	}

	return h, nil
}

// splitHostPort splits "HOST" or "HOST:PORT" or "[IPv6]:PORT" or "[IPv6]".
func splitHostPort(s string) (name string, port int, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated IPv6 literal in %q", s)
		}
		name = s[1:end]
		remainder := s[end+1:]
		if remainder == "" {
			return name, 0, nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", 0, fmt.Errorf("expected ':' after IPv6 literal in %q", s)
		}
		port, err = strconv.Atoi(remainder[1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		return name, port, nil
	}

	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		name = s[:idx]
		port, err = strconv.Atoi(s[idx+1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		return name, port, nil
	}

	return s, 0, nil
}
