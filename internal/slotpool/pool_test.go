package slotpool_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/hostconf"
	"github.com/nabbar/homcc/internal/slotpool"
)

func testHost(name string, slots int) hostconf.Host {
	return hostconf.Host{Name: name, Port: 3633, MaxSlots: slots, Compression: compress.None}
}

func TestTryAcquireRelease(t *testing.T) {
	pool := slotpool.New(t.TempDir())
	h := testHost("hostA", 1)

	r, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, r)

	_, ok, err = pool.TryAcquire(h)
	require.NoError(t, err)
	require.False(t, ok, "second acquire on a 1-slot host must fail")

	r.Release()

	r2, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)
	r2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool := slotpool.New(t.TempDir())
	h := testHost("hostB", 1)

	r, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)

	r.Release()
	require.NotPanics(t, func() { r.Release() })

	_, ok, err = pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok, "double release must not double-credit the semaphore")
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	pool := slotpool.New(t.TempDir())
	h := testHost("hostC", 1)

	r, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r2, err := pool.Acquire(ctx, h)
		require.NoError(t, err)
		r2.Release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Release")
	}
}

func TestInFlightLimit(t *testing.T) {
	hosts := []hostconf.Host{testHost("a", 2), testHost("b", 4)}
	require.Equal(t, 3, slotpool.InFlightLimit(hosts, 3))
	require.Equal(t, 6, slotpool.InFlightLimit(hosts, 100))
}

func TestScanRemovesStaleReservationFromDeadPid(t *testing.T) {
	base := t.TempDir()
	pool := slotpool.New(base)
	h := testHost("hostD", 1)

	dir := filepath.Join(base, "hostD_3633")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	stalePath := filepath.Join(dir, "999999-1.slot")
	require.NoError(t, os.WriteFile(stalePath, []byte(fmt.Sprintf("%d\n", deadPid())), 0o644))

	rep, err := pool.Scan()
	require.NoError(t, err)
	require.GreaterOrEqual(t, rep.Removed, 1)
	require.NoFileExists(t, stalePath)

	r, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok, "slot freed by janitor scan must be acquirable again")
	r.Release()
}

func TestTryAcquireEnforcesLimitAcrossPools(t *testing.T) {
	base := t.TempDir()
	h := testHost("hostF", 1)

	poolA := slotpool.New(base)
	poolB := slotpool.New(base)

	rA, ok, err := poolA.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)
	defer rA.Release()

	_, ok, err = poolB.TryAcquire(h)
	require.NoError(t, err)
	require.False(t, ok, "a second independent Pool (simulating another process) must not exceed MaxSlots")
}

func TestScanKeepsLiveReservation(t *testing.T) {
	base := t.TempDir()
	pool := slotpool.New(base)
	h := testHost("hostE", 1)

	r, ok, err := pool.TryAcquire(h)
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Release()

	rep, err := pool.Scan()
	require.NoError(t, err)
	require.Equal(t, 0, rep.Removed, "a live process's reservation must survive a scan")
}

// deadPid returns a pid almost certainly not in use: spawn and immediately
// reap a child, then reuse its now-dead pid.
func deadPid() int {
	proc, err := os.StartProcess("/bin/true", []string{"/bin/true"}, &os.ProcAttr{})
	if err != nil {
		return 999999
	}
	state, err := proc.Wait()
	if err != nil || state == nil {
		return proc.Pid
	}
	return proc.Pid
}
