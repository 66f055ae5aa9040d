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

// Package server implements homccd's listener and dispatcher (spec §4.6):
// bind one TCP address, enforce a global concurrent-job ceiling, and spawn
// one task per accepted connection, replying ConnectionRefused when
// saturated.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nabbar/homcc/internal/job"
	"github.com/nabbar/homcc/internal/logging"
	"github.com/nabbar/homcc/internal/protocol"
)

// Server binds one address and dispatches accepted connections to a Runner,
// enforcing a global in-flight ceiling before spawning each job's task.
type Server struct {
	Addr    string
	Limit   int
	Runner  *job.Runner
	Log     *logging.Logger

	mu        sync.Mutex
	inFlight  int
	listener  net.Listener
	connCount int64
}

// New returns a Server bound to nothing yet; call Serve to start accepting.
func New(addr string, limit int, runner *job.Runner, log *logging.Logger) *Server {
	return &Server{Addr: addr, Limit: limit, Runner: runner, Log: log}
}

// OpenConnections reports the current accepted-and-active connection count,
// mirroring the teacher socket package's introspection shape.
func (s *Server) OpenConnections() int64 {
	return atomic.LoadInt64(&s.connCount)
}

// Serve binds Addr and accepts connections until ctx is cancelled or accept
// fails. Each accepted connection is admission-controlled against Limit
// before any per-connection task is spawned (spec §4.6).
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	group.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}

			if !s.admit() {
				s.refuse(conn)
				continue
			}

			atomic.AddInt64(&s.connCount, 1)
			group.Go(func() error {
				defer s.release()
				defer atomic.AddInt64(&s.connCount, -1)
				s.handle(gctx, conn)
				return nil
			})
		}
	})

	return group.Wait()
}

func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight >= s.Limit {
		return false
	}
	s.inFlight++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

func (s *Server) refuse(conn net.Conn) {
	defer conn.Close()

	codec := protocol.NewCodec(conn, conn)
	_ = codec.WriteConnectionRefused("server at capacity")

	if s.Log != nil {
		s.Log.Infof("refused connection from %s: at capacity", conn.RemoteAddr())
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	codec := protocol.NewCodec(conn, conn)
	if err := s.Runner.Handle(ctx, codec); err != nil && s.Log != nil {
		s.Log.CheckError(logging.WarnLevel, "job handling failed for "+conn.RemoteAddr().String(), err)
	}
}
