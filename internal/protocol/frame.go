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

package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/errs"
)

// Magic is the 4-byte constant opening every frame header ("HOMC").
var Magic = [4]byte{'H', 'O', 'M', 'C'}

// Version is the current protocol version byte.
const Version uint8 = 1

// headerLen is the fixed 16-byte size of a frame header:
// magic(4) version(1) kind(1) compression(1) reserved(1) length(8).
const headerLen = 16

// DefaultMaxPayload is the default ProtocolOverflow cap (2 GiB), matching §4.1.
const DefaultMaxPayload uint64 = 2 << 30

// Frame is one decoded wire message: its kind, the compression it was sent
// with, and its raw (decompressed) payload bytes.
type Frame struct {
	Kind        Kind
	Compression compress.Algorithm
	Payload     []byte
}

// Codec encodes and decodes frames over a single connection. It is not safe
// for concurrent use by multiple goroutines on the same direction (reads and
// writes may proceed concurrently on the same Codec from separate
// goroutines, since they touch independent halves of the underlying
// net.Conn).
type Codec struct {
	r          *bufio.Reader
	w          io.Writer
	maxPayload uint64
}

// NewCodec wraps rw for framed reads and writes with the default payload cap.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: bufio.NewReader(r), w: w, maxPayload: DefaultMaxPayload}
}

// WithMaxPayload overrides the ProtocolOverflow cap.
func (c *Codec) WithMaxPayload(max uint64) *Codec {
	c.maxPayload = max
	return c
}

// WriteFrame compresses payload per algo and writes header+payload as one
// message. Partial writes are the caller's (net.Conn's) problem; WriteFrame
// itself writes the whole frame or returns an error.
func (c *Codec) WriteFrame(kind Kind, algo compress.Algorithm, payload []byte) error {
	compressed, err := compressPayload(algo, payload)
	if err != nil {
		return err
	}

	var hdr [headerLen]byte
	copy(hdr[0:4], Magic[:])
	hdr[4] = Version
	hdr[5] = uint8(kind)
	hdr[6] = uint8(algo)
	hdr[7] = 0
	binary.BigEndian.PutUint64(hdr[8:16], uint64(len(compressed)))

	if _, err = c.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(compressed) == 0 {
		return nil
	}
	_, err = c.w.Write(compressed)
	return err
}

// ReadFrame blocks until a full frame header and payload have arrived, the
// connection closes (PeerClosed), or the declared length exceeds the cap
// (ProtocolOverflow). The payload is returned decompressed.
func (c *Codec) ReadFrame() (*Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errs.New(errs.PeerClosed, err)
		}
		return nil, err
	}

	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return nil, errs.Newf(errs.ProtocolMalformed, "bad magic")
	}
	if hdr[4] != Version {
		return nil, errs.Newf(errs.ProtocolVersion, "unsupported version %d", hdr[4])
	}

	kind := Kind(hdr[5])
	algo := compress.Algorithm(hdr[6])
	length := binary.BigEndian.Uint64(hdr[8:16])

	if length > c.maxPayload {
		return nil, errs.Newf(errs.ProtocolOverflow, "payload length %d exceeds cap %d", length, c.maxPayload)
	}

	compressed := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.r, compressed); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, errs.New(errs.PeerClosed, err)
			}
			return nil, err
		}
	}

	payload, err := decompressPayload(algo, compressed)
	if err != nil {
		return nil, errs.New(errs.ProtocolMalformed, err)
	}

	return &Frame{Kind: kind, Compression: algo, Payload: payload}, nil
}

func compressPayload(algo compress.Algorithm, payload []byte) ([]byte, error) {
	if algo.IsNone() {
		return payload, nil
	}

	var buf buffer
	w, err := algo.Writer(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(payload); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func decompressPayload(algo compress.Algorithm, payload []byte) ([]byte, error) {
	if algo.IsNone() {
		return payload, nil
	}

	r, err := algo.Reader(&buffer{b: payload})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// buffer is a minimal io.ReadWriter over a byte slice, avoiding a bytes.Buffer
// import cycle concern with compress's own buffering; kept tiny on purpose.
type buffer struct {
	b []byte
	i int
}

func (buf *buffer) Write(p []byte) (int, error) {
	buf.b = append(buf.b, p...)
	return len(p), nil
}

func (buf *buffer) Read(p []byte) (int, error) {
	if buf.i >= len(buf.b) {
		return 0, io.EOF
	}
	n := copy(p, buf.b[buf.i:])
	buf.i += n
	return n, nil
}
