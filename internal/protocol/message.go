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

// Package protocol implements the HOMC wire format: a 16-byte framed header
// followed by a payload that is compressed per-message and, for most message
// kinds, a self-describing JSON body.
package protocol

// Kind is the 1-byte message_type tag carried in every frame header.
type Kind uint8

const (
	KindArgumentRequest Kind = iota
	KindDependencyRequest
	KindFileTransfer
	KindFilesSent
	KindCompilationResult
	KindConnectionRefused
)

func (k Kind) String() string {
	switch k {
	case KindArgumentRequest:
		return "ArgumentRequest"
	case KindDependencyRequest:
		return "DependencyRequest"
	case KindFileTransfer:
		return "FileTransfer"
	case KindFilesSent:
		return "FilesSent"
	case KindCompilationResult:
		return "CompilationResult"
	case KindConnectionRefused:
		return "ConnectionRefused"
	default:
		return "Unknown"
	}
}

// ArgumentRequest is sent client to server to open a compilation session.
type ArgumentRequest struct {
	Args             []string          `json:"args"`
	Cwd              string            `json:"cwd"`
	TargetProfile    string            `json:"target_profile,omitempty"`
	DockerContainer  string            `json:"docker_container,omitempty"`
	DependencyHashes map[string]string `json:"dependency_hashes"`
}

// DependencyRequest is sent server to client: the subset of digests it still
// needs before it can materialize the job's working directory.
type DependencyRequest struct {
	Needed []string `json:"needed"`
}

// FileTransferHeader is the small fixed header preceding a FileTransfer's raw
// byte strings, so path/digest/content never double-encode through JSON.
type FileTransferHeader struct {
	PathLen    uint32
	DigestLen  uint32
	ContentLen uint64
}

// FileTransfer is one client-to-server upload of a single missing dependency.
type FileTransfer struct {
	Path    string
	Digest  string
	Content []byte
}

// ObjectFile is one compiled artifact returned to the client.
type ObjectFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content_bytes"`
}

// CompilationResult is sent server to client with the outcome of a job.
type CompilationResult struct {
	ExitCode    uint32       `json:"exit_code"`
	Stdout      string       `json:"stdout"`
	Stderr      string       `json:"stderr"`
	ObjectFiles []ObjectFile `json:"object_files"`
}

// ConnectionRefused is sent when the server is at its concurrency ceiling.
type ConnectionRefused struct {
	Reason string `json:"reason"`
}
