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

// Package slotpool implements the per-host, process-wide named slot
// reservation described in spec §3/§4.3/§5: a counting semaphore keyed
// deterministically by host string, shared by every homcc invocation on the
// machine, crash-safe via a side-channel registry a janitor can clean.
//
// In-process concurrency is gated by golang.org/x/sync/semaphore.Weighted
// (mirroring github.com/nabbar/golib/semaphore/sem's New(ctx, n) shape), but
// that gate alone only bounds one process's own attempts. The actual
// cross-process count is the number of live reservation files under each
// host's flocked registry directory (tryRecord/countLive below); a second
// homcc process sharing the same host therefore shares the same counter
// instead of independently granting up to MaxSlots. See janitor.go for the
// standalone crash-recovery sweep over the same files.
package slotpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nabbar/homcc/internal/hostconf"
)

// acquirePollInterval is how often a blocking Acquire re-checks the
// cross-process registry after the in-process semaphore admits it but the
// on-disk count is already at h.MaxSlots (another process holds the slot).
const acquirePollInterval = 50 * time.Millisecond

// Pool owns the in-process weighted semaphores for every host seen so far in
// this process, plus the on-disk registry directory used for cross-process
// accounting and crash recovery.
type Pool struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	base string
}

// New builds a Pool rooted at baseDir for its on-disk registry. If baseDir is
// empty, it defaults to $HOMCC_DIR/slots or os.TempDir()/homcc-slots.
func New(baseDir string) *Pool {
	if baseDir == "" {
		baseDir = defaultBaseDir()
	}
	return &Pool{sems: make(map[string]*semaphore.Weighted), base: baseDir}
}

func defaultBaseDir() string {
	if dir := os.Getenv("HOMCC_DIR"); dir != "" {
		return filepath.Join(dir, "slots")
	}
	return filepath.Join(os.TempDir(), "homcc-slots")
}

func (p *Pool) weighted(h hostconf.Host) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := h.Key()
	if s, ok := p.sems[key]; ok {
		return s
	}
	s := semaphore.NewWeighted(int64(h.MaxSlots))
	p.sems[key] = s
	return s
}

// Reservation is one acquired slot; Release must be called exactly once on
// every code path, including error/cancellation paths (spec §5).
type Reservation struct {
	pool     *Pool
	host     hostconf.Host
	sem      *semaphore.Weighted
	recordID string
	released bool
}

// TryAcquire attempts a non-blocking acquire of one of h's slots. It returns
// ok == false (not an error) if no slot was free, per §4.3's "selector
// advances past hosts whose non-blocking acquire fails". The in-process
// semaphore only bounds this process's own concurrent attempts; the actual
// grant is decided by tryRecord's cross-process registry count, so that two
// homcc invocations on the same machine share the same counter (spec §3).
func (p *Pool) TryAcquire(h hostconf.Host) (*Reservation, bool, error) {
	sem := p.weighted(h)
	if !sem.TryAcquire(1) {
		return nil, false, nil
	}

	id, ok, err := p.tryRecord(h)
	if err != nil || !ok {
		sem.Release(1)
		return nil, false, err
	}

	return &Reservation{pool: p, host: h, sem: sem, recordID: id}, true, nil
}

// Acquire blocks until a slot on h is available or ctx is done, polling the
// cross-process registry count while the in-process semaphore is held.
func (p *Pool) Acquire(ctx context.Context, h hostconf.Host) (*Reservation, error) {
	sem := p.weighted(h)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	for {
		id, ok, err := p.tryRecord(h)
		if err != nil {
			sem.Release(1)
			return nil, err
		}
		if ok {
			return &Reservation{pool: p, host: h, sem: sem, recordID: id}, nil
		}

		select {
		case <-ctx.Done():
			sem.Release(1)
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release gives back the slot. It is safe to call more than once; only the
// first call has effect, so defer-on-every-exit-path usage is always safe.
func (r *Reservation) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true

	_ = r.pool.forget(r.host, r.recordID)
	r.sem.Release(1)
}

// InFlightLimit returns min(jobCount, Σ max_slots) as defined in §4.3.
func InFlightLimit(hosts []hostconf.Host, jobCount int) int {
	total := 0
	for _, h := range hosts {
		total += h.MaxSlots
	}
	if jobCount < total {
		return jobCount
	}
	return total
}

func (p *Pool) registryDir(h hostconf.Host) string {
	return filepath.Join(p.base, sanitize(h.Key()))
}

func sanitize(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// tryRecord is the cross-process admission check: under the per-host
// directory's advisory flock (spec §9), it counts live registry entries
// (pruning any whose recording pid has died, same as the janitor) and only
// writes a new entry - recording that this process holds a slot on h, so the
// janitor can find and release it if this process is SIGKILLed before
// Release runs - if fewer than h.MaxSlots are currently live.
func (p *Pool) tryRecord(h hostconf.Host) (string, bool, error) {
	dir := p.registryDir(h)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}

	unlock, err := flockDir(filepath.Join(dir, ".lock"))
	if err != nil {
		return "", false, err
	}
	defer unlock()

	live, err := countLive(dir)
	if err != nil {
		return "", false, err
	}
	if live >= h.MaxSlots {
		return "", false, nil
	}

	name := fmt.Sprintf("%d-%d.slot", os.Getpid(), nextSeq())
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return "", false, err
	}
	return name, true, nil
}

// countLive counts .slot entries in dir whose recording pid is still alive,
// pruning dead ones inline so a crashed process's slot is reclaimed on the
// very next Acquire instead of waiting for a separate janitor pass.
func countLive(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		if f.IsDir() || f.Name() == ".lock" || !strings.HasSuffix(f.Name(), ".slot") {
			continue
		}

		path := filepath.Join(dir, f.Name())
		pid, err := readPid(path)
		if err != nil || !pidAlive(pid) {
			_ = os.Remove(path)
			continue
		}
		n++
	}
	return n, nil
}

func (p *Pool) forget(h hostconf.Host, recordID string) error {
	if recordID == "" {
		return nil
	}
	path := filepath.Join(p.registryDir(h), recordID)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var seqMu sync.Mutex
var seq int

func nextSeq() int {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return seq
}
