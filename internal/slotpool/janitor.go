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

package slotpool

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Report summarizes one janitor pass, surfaced by `homcc --scan-and-clean`.
type Report struct {
	Scanned int
	Removed int
	Stale   []string
}

// Scan walks every per-host registry directory under the pool's base dir and
// removes reservation files whose recording pid is no longer alive. A dead
// process leaves its reservation file behind forever (SIGKILL bypasses
// Release), so this is the only way the slot-conservation invariant gets
// restored after a crash; see the "slot leak recovery" scenario.
func (p *Pool) Scan() (Report, error) {
	var rep Report

	entries, err := os.ReadDir(p.base)
	if os.IsNotExist(err) {
		return rep, nil
	}
	if err != nil {
		return rep, err
	}

	for _, hostDir := range entries {
		if !hostDir.IsDir() {
			continue
		}
		dir := filepath.Join(p.base, hostDir.Name())

		lockPath := filepath.Join(dir, ".lock")
		unlock, err := flockDir(lockPath)
		if err != nil {
			continue
		}

		files, err := os.ReadDir(dir)
		if err != nil {
			unlock()
			continue
		}

		for _, f := range files {
			if f.IsDir() || f.Name() == ".lock" || !strings.HasSuffix(f.Name(), ".slot") {
				continue
			}
			rep.Scanned++

			path := filepath.Join(dir, f.Name())
			pid, err := readPid(path)
			if err != nil || !pidAlive(pid) {
				if rmErr := os.Remove(path); rmErr == nil {
					rep.Removed++
					rep.Stale = append(rep.Stale, path)
				}
			}
		}

		unlock()
	}

	return rep, nil
}

func readPid(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, sc.Err()
	}
	return strconv.Atoi(strings.TrimSpace(sc.Text()))
}

// pidAlive probes liveness with signal 0, which performs permission and
// existence checks without actually delivering a signal.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}

// flockDir takes a short-lived exclusive lock on lockPath for the duration of
// one directory scan, so a concurrent Acquire/Release on another process
// doesn't race the janitor's read of the directory listing.
func flockDir(lockPath string) (unlockFn func(), err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
