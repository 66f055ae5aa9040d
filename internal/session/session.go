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

// Package session implements the client-side session state machine of spec
// §4.5: Init -> AwaitDepList -> SendingFiles -> AwaitResult -> Complete or
// Failed(_). One Session owns exactly one connection and one host slot
// reservation; a client runs many Sessions concurrently, each with its own.
package session

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/errs"
	"github.com/nabbar/homcc/internal/hostconf"
	"github.com/nabbar/homcc/internal/protocol"
	"github.com/nabbar/homcc/internal/scanner"
	"github.com/nabbar/homcc/internal/slotpool"
)

// State names the session's position in the state machine.
type State uint8

const (
	Init State = iota
	AwaitDepList
	SendingFiles
	AwaitResult
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case AwaitDepList:
		return "AwaitDepList"
	case SendingFiles:
		return "SendingFiles"
	case AwaitResult:
		return "AwaitResult"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Request is everything a session needs to open a remote compilation.
type Request struct {
	Args            []string
	Cwd             string
	TargetProfile   string
	DockerContainer string
	Dependencies    *scanner.Result
}

// Session drives one remote compilation attempt over one connection.
type Session struct {
	host  hostconf.Host
	res   *slotpool.Reservation
	conn  net.Conn
	codec *protocol.Codec

	State   State
	Failure error
}

// Dial connects to host, reserving one of its slots first. The reservation
// is released by Close regardless of how the session ends, satisfying the
// spec's "must be released on all exit paths including crashes" for the
// in-process half of that guarantee (the cross-process half is slotpool's
// registry + janitor).
func Dial(ctx context.Context, pool *slotpool.Pool, host hostconf.Host, dialTimeout time.Duration) (*Session, error) {
	res, err := pool.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		res.Release()
		return nil, errs.New(errs.Refused, err)
	}

	return &Session{
		host:  host,
		res:   res,
		conn:  conn,
		codec: protocol.NewCodec(conn, conn),
		State: Init,
	}, nil
}

// Close releases the host slot and closes the connection. Safe to call more
// than once.
func (s *Session) Close() error {
	if s.res != nil {
		s.res.Release()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Run drives the full state machine for req, returning the final result on
// success. On any failure it transitions to Failed and records the cause;
// the caller is responsible for local fallback (spec §4.5 state 6) and must
// still call Close to release the host slot.
func (s *Session) Run(ctx context.Context, req Request) (*protocol.CompilationResult, error) {
	hashes := make(map[string]string, len(req.Dependencies.Hashes))
	for p, d := range req.Dependencies.Hashes {
		hashes[p] = string(d)
	}

	argReq := &protocol.ArgumentRequest{
		Args:             req.Args,
		Cwd:              req.Cwd,
		TargetProfile:    req.TargetProfile,
		DockerContainer:  req.DockerContainer,
		DependencyHashes: hashes,
	}

	if err := s.codec.WriteArgumentRequest(s.host.Compression, argReq); err != nil {
		return s.fail(err)
	}
	s.State = AwaitDepList

	frame, err := s.codec.ReadFrame()
	if err != nil {
		return s.fail(err)
	}

	if frame.Kind == protocol.KindConnectionRefused {
		refused, _ := protocol.DecodeConnectionRefused(frame)
		reason := ""
		if refused != nil {
			reason = refused.Reason
		}
		return s.fail(errs.Newf(errs.Refused, "server refused connection: %s", reason))
	}

	if frame.Kind == protocol.KindCompilationResult {
		result, err := protocol.DecodeCompilationResult(frame)
		if err != nil {
			return s.fail(err)
		}
		s.State = Complete
		return result, nil
	}

	depReq, err := protocol.DecodeDependencyRequest(frame)
	if err != nil {
		return s.fail(err)
	}

	s.State = SendingFiles
	if err := s.sendFiles(depReq.Needed, req.Dependencies); err != nil {
		return s.fail(err)
	}

	s.State = AwaitResult
	resultFrame, err := s.codec.ReadFrame()
	if err != nil {
		return s.fail(errs.New(errs.PeerClosed, err))
	}

	result, err := protocol.DecodeCompilationResult(resultFrame)
	if err != nil {
		return s.fail(err)
	}

	s.State = Complete
	return result, nil
}

func (s *Session) sendFiles(needed []string, deps *scanner.Result) error {
	for _, needDigest := range needed {
		path := findPathForDigest(deps, needDigest)
		if path == "" {
			return errs.Newf(errs.NotFound, "server requested unknown digest %s", needDigest)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		if err := s.codec.WriteFileTransfer(s.host.Compression, &protocol.FileTransfer{
			Path:    path,
			Digest:  needDigest,
			Content: content,
		}); err != nil {
			return err
		}
	}
	return s.codec.WriteFilesSent()
}

func findPathForDigest(deps *scanner.Result, want string) string {
	for p, d := range deps.Hashes {
		if string(d) == want {
			return p
		}
	}
	return ""
}

func (s *Session) fail(cause error) (*protocol.CompilationResult, error) {
	s.State = Failed
	s.Failure = cause
	return nil, cause
}
