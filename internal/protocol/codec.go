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
	"encoding/binary"

	jsoniter "github.com/json-iterator/go"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/errs"
)

// json is the jsoniter configuration used for every self-describing body
// (ArgumentRequest, DependencyRequest, CompilationResult, ConnectionRefused),
// matching the field tags above byte-for-byte against encoding/json.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteArgumentRequest encodes and sends an ArgumentRequest.
func (c *Codec) WriteArgumentRequest(algo compress.Algorithm, m *ArgumentRequest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(KindArgumentRequest, algo, b)
}

// WriteDependencyRequest encodes and sends a DependencyRequest.
func (c *Codec) WriteDependencyRequest(algo compress.Algorithm, m *DependencyRequest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(KindDependencyRequest, algo, b)
}

// WriteCompilationResult encodes and sends a CompilationResult.
func (c *Codec) WriteCompilationResult(algo compress.Algorithm, m *CompilationResult) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(KindCompilationResult, algo, b)
}

// WriteConnectionRefused encodes and sends a ConnectionRefused.
func (c *Codec) WriteConnectionRefused(reason string) error {
	b, err := json.Marshal(&ConnectionRefused{Reason: reason})
	if err != nil {
		return err
	}
	return c.WriteFrame(KindConnectionRefused, compress.None, b)
}

// WriteFileTransfer sends one FileTransfer payload: a small fixed header
// (path_len, digest_len, content_len, all big-endian) followed by the three
// byte strings back to back, so large binaries never double-encode through
// JSON (see spec §4.1).
func (c *Codec) WriteFileTransfer(algo compress.Algorithm, ft *FileTransfer) error {
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(ft.Path)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(ft.Digest)))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(len(ft.Content)))

	payload := make([]byte, 0, 16+len(ft.Path)+len(ft.Digest)+len(ft.Content))
	payload = append(payload, hdr[:]...)
	payload = append(payload, ft.Path...)
	payload = append(payload, ft.Digest...)
	payload = append(payload, ft.Content...)

	return c.WriteFrame(KindFileTransfer, algo, payload)
}

// WriteFilesSent sends the FilesSent terminator marker closing an upload
// batch.
func (c *Codec) WriteFilesSent() error {
	return c.WriteFrame(KindFilesSent, compress.None, nil)
}

// DecodeArgumentRequest unmarshals a KindArgumentRequest frame's payload.
func DecodeArgumentRequest(f *Frame) (*ArgumentRequest, error) {
	if f.Kind != KindArgumentRequest {
		return nil, errs.Newf(errs.ProtocolMalformed, "expected ArgumentRequest, got %s", f.Kind)
	}
	m := &ArgumentRequest{}
	if err := json.Unmarshal(f.Payload, m); err != nil {
		return nil, errs.New(errs.ProtocolMalformed, err)
	}
	return m, nil
}

// DecodeDependencyRequest unmarshals a KindDependencyRequest frame's payload.
func DecodeDependencyRequest(f *Frame) (*DependencyRequest, error) {
	if f.Kind != KindDependencyRequest {
		return nil, errs.Newf(errs.ProtocolMalformed, "expected DependencyRequest, got %s", f.Kind)
	}
	m := &DependencyRequest{}
	if err := json.Unmarshal(f.Payload, m); err != nil {
		return nil, errs.New(errs.ProtocolMalformed, err)
	}
	return m, nil
}

// DecodeCompilationResult unmarshals a KindCompilationResult frame's payload.
func DecodeCompilationResult(f *Frame) (*CompilationResult, error) {
	if f.Kind != KindCompilationResult {
		return nil, errs.Newf(errs.ProtocolMalformed, "expected CompilationResult, got %s", f.Kind)
	}
	m := &CompilationResult{}
	if err := json.Unmarshal(f.Payload, m); err != nil {
		return nil, errs.New(errs.ProtocolMalformed, err)
	}
	return m, nil
}

// DecodeConnectionRefused unmarshals a KindConnectionRefused frame's payload.
func DecodeConnectionRefused(f *Frame) (*ConnectionRefused, error) {
	if f.Kind != KindConnectionRefused {
		return nil, errs.Newf(errs.ProtocolMalformed, "expected ConnectionRefused, got %s", f.Kind)
	}
	m := &ConnectionRefused{}
	if err := json.Unmarshal(f.Payload, m); err != nil {
		return nil, errs.New(errs.ProtocolMalformed, err)
	}
	return m, nil
}

// DecodeFileTransfer parses a KindFileTransfer frame's fixed-header payload.
func DecodeFileTransfer(f *Frame) (*FileTransfer, error) {
	if f.Kind != KindFileTransfer {
		return nil, errs.Newf(errs.ProtocolMalformed, "expected FileTransfer, got %s", f.Kind)
	}
	if len(f.Payload) < 16 {
		return nil, errs.Newf(errs.ProtocolMalformed, "FileTransfer payload too short")
	}

	pathLen := binary.BigEndian.Uint32(f.Payload[0:4])
	digestLen := binary.BigEndian.Uint32(f.Payload[4:8])
	contentLen := binary.BigEndian.Uint64(f.Payload[8:16])

	body := f.Payload[16:]
	want := uint64(pathLen) + uint64(digestLen) + contentLen
	if uint64(len(body)) != want {
		return nil, errs.Newf(errs.ProtocolMalformed, "FileTransfer payload length mismatch: want %d, got %d", want, len(body))
	}

	path := string(body[:pathLen])
	digest := string(body[pathLen : uint64(pathLen)+uint64(digestLen)])
	content := body[uint64(pathLen)+uint64(digestLen):]

	return &FileTransfer{Path: path, Digest: digest, Content: content}, nil
}
