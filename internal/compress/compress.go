/*
 *  MIT License
 *
 *  Copyright (c) 2020 Nicolas JUHEL
 *
 *  Permission is hereby granted, free of charge, to any person obtaining a copy
 *  of this software and associated documentation files (the "Software"), to deal
 *  in the Software without restriction, including without limitation the rights
 *  to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *  copies of the Software, and to permit persons to whom the Software is
 *  furnished to do so, subject to the following conditions:
 *
 *  The above copyright notice and this permission notice shall be included in all
 *  copies or substantial portions of the Software.
 *
 *  THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *  IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *  FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *  AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *  LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *  OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *  SOFTWARE.
 *
 */

// Package compress provides the two pluggable, stream-oriented codecs the
// wire protocol negotiates per host: lzo (substituted with LZ4, see doc.go)
// and lzma (via xz). It follows the shape of the teacher's
// archive/compress package: an Algorithm enum with String/Parse plus a
// uniform Writer/Reader factory pair.
package compress

import (
	"io"
	"strings"
)

// Algorithm is the compression_kind byte carried in the frame header.
type Algorithm uint8

const (
	None Algorithm = iota
	LZO
	LZMA
)

func (a Algorithm) String() string {
	switch a {
	case LZO:
		return "lzo"
	case LZMA:
		return "lzma"
	default:
		return "none"
	}
}

func (a Algorithm) IsNone() bool {
	return a == None
}

// Parse parses a case-insensitive algorithm name, defaulting to None.
func Parse(s string) Algorithm {
	switch strings.ToLower(s) {
	case "lzo":
		return LZO
	case "lzma":
		return LZMA
	default:
		return None
	}
}

// Writer wraps w with a compressing io.WriteCloser for the given algorithm.
// Closing the writer flushes any buffered tail but does not close w.
func (a Algorithm) Writer(w io.Writer) (io.WriteCloser, error) {
	switch a {
	case LZO:
		return newLZ4Writer(w), nil
	case LZMA:
		return newXZWriter(w)
	default:
		return nopWriteCloser{w}, nil
	}
}

// Reader wraps r with a decompressing io.Reader for the given algorithm.
func (a Algorithm) Reader(r io.Reader) (io.Reader, error) {
	switch a {
	case LZO:
		return newLZ4Reader(r), nil
	case LZMA:
		return newXZReader(r)
	default:
		return r, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
