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

// Package digest computes the fixed cryptographic content hash used
// everywhere a file is addressed by its bytes: dependency hashes in
// ArgumentRequest, cache keys, and FileTransfer integrity checks.
//
// sha256 is standard-library only, deliberately: no example repo in the
// pack bundles a faster or drop-in alternative (no blake3/xxhash import
// appears anywhere in the corpus), and the digest is a correctness-critical
// identity, not a hot loop, so there is no case for reaching past crypto/sha256.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest is the lowercase-hex sha256 content hash of a file or byte slice.
type Digest string

// Of hashes an in-memory byte slice.
func Of(content []byte) Digest {
	sum := sha256.Sum256(content)
	return Digest(hex.EncodeToString(sum[:]))
}

// OfReader hashes a stream without buffering it entirely in memory.
func OfReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// OfFile hashes the file at path.
func OfFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return OfReader(f)
}

// Fanout returns the two-hex-character directory prefix used for the cache's
// on-disk layout (cache_dir/<first-2-hex>/<digest>).
func (d Digest) Fanout() string {
	if len(d) < 2 {
		return "00"
	}
	return string(d[:2])
}

func (d Digest) String() string { return string(d) }
