package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nabbar/homcc/internal/cache"
	"github.com/nabbar/homcc/internal/digest"
)

func TestInsertContainsPinUnpin(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)

	content := []byte("hello dependency file")
	d := digest.Of(content)

	require.False(t, c.Contains(d))

	path, err := c.Insert(d, content)
	require.NoError(t, err)
	require.True(t, c.Contains(d))

	pinned, err := c.Pin(d)
	require.NoError(t, err)
	require.Equal(t, path, pinned)

	c.Unpin(d)
}

func TestPinMissingFails(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)

	_, err = c.Pin(digest.Of([]byte("never inserted")))
	require.Error(t, err)
}

func TestInsertRejectsOversizeBlob(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 8, nil)
	require.NoError(t, err)

	_, err = c.Insert(digest.Of([]byte("way too big for budget")), []byte("way too big for budget"))
	require.Error(t, err)
}

func TestEvictionOrderRespectsRefcount(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 10, nil)
	require.NoError(t, err)

	a := []byte("aaaaa")
	b := []byte("bbbbb")
	da, db := digest.Of(a), digest.Of(b)

	_, err = c.Insert(da, a)
	require.NoError(t, err)
	_, err = c.Pin(da)
	require.NoError(t, err)

	_, err = c.Insert(db, b)
	require.NoError(t, err)

	// cache budget is 10 bytes; both blobs are 5 bytes each, so inserting a
	// third would require eviction. da is pinned, so db (unpinned) must go.
	cc := []byte("ccccc")
	dc := digest.Of(cc)
	_, err = c.Insert(dc, cc)
	require.NoError(t, err)

	require.True(t, c.Contains(da), "pinned entry must survive eviction")
	require.False(t, c.Contains(db), "unpinned entry must be evicted before a pinned one")
	require.True(t, c.Contains(dc))
	require.Equal(t, int64(1), c.Stats().Evictions)
}

func TestRecoverDropsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir, 1<<20, nil)
	require.NoError(t, err)

	content := []byte("valid content")
	d := digest.Of(content)
	_, err = c.Insert(d, content)
	require.NoError(t, err)

	// A blob whose content no longer hashes to its filename is corrupt.
	bogus := digest.Of([]byte("other content"))
	corruptPath := filepath.Join(dir, bogus.Fanout(), string(bogus))
	require.NoError(t, os.MkdirAll(filepath.Dir(corruptPath), 0o755))
	require.NoError(t, os.WriteFile(corruptPath, []byte("tampered"), 0o644))

	// Reopening a fresh cache instance over the same directory must recover
	// the valid blob into its metadata map and drop the corrupt one.
	c2, err := cache.Open(dir, 1<<20, nil)
	require.NoError(t, err)
	require.True(t, c2.Contains(d))
	require.False(t, c2.Contains(bogus))
	require.NoFileExists(t, corruptPath)
}

func TestStats(t *testing.T) {
	c, err := cache.Open(t.TempDir(), 100, nil)
	require.NoError(t, err)

	content := []byte("stats content")
	d := digest.Of(content)
	_, err = c.Insert(d, content)
	require.NoError(t, err)

	st := c.Stats()
	require.Equal(t, 1, st.Entries)
	require.Equal(t, int64(len(content)), st.UsedBytes)
	require.Equal(t, int64(100), st.BudgetBytes)
}
