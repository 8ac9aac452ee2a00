package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache[V any](ttl time.Duration) (*Cache[string, V], *fakeClock) {
	c := New[string, V](ttl)
	clock := newFakeClock()
	c.now = clock.Now
	return c, clock
}

// ---------------------------------------------------------------------------
// Expiry
// ---------------------------------------------------------------------------

func TestPutAndGet(t *testing.T) {
	c, _ := newTestCache[string](time.Minute)

	c.Put("key1", "value1")

	v, ok := c.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)
}

func TestGetExpired(t *testing.T) {
	c, clock := newTestCache[string](10 * time.Second)

	c.Put("key1", "value1")

	// Just under the TTL the entry is still served.
	clock.Advance(9 * time.Second)
	_, ok := c.Get("key1")
	assert.True(t, ok)

	// Exactly at the TTL it is treated as absent.
	clock.Advance(time.Second)
	_, ok = c.Get("key1")
	assert.False(t, ok)
}

func TestPutResetsAge(t *testing.T) {
	c, clock := newTestCache[string](10 * time.Second)

	c.Put("key1", "value1")
	clock.Advance(8 * time.Second)

	// Overwrite resets the insertion time.
	c.Put("key1", "value2")
	clock.Advance(8 * time.Second)

	v, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value2", v)
}

func TestOverwrite(t *testing.T) {
	c, _ := newTestCache[string](time.Minute)

	c.Put("key1", "value1")
	c.Put("key1", "value2")

	v, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value2", v)
	assert.Equal(t, 1, c.Len())
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache[string](10 * time.Second)

	c.Put("old", "v")
	clock.Advance(6 * time.Second)
	c.Put("new", "v")

	clock.Advance(5 * time.Second) // old=11s, new=5s

	evicted := c.Sweep()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestLenAndIsEmpty(t *testing.T) {
	c, _ := newTestCache[int](time.Minute)

	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Len())

	c.Put("a", 1)
	c.Put("b", 2)

	assert.False(t, c.IsEmpty())
	assert.Equal(t, 2, c.Len())
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentDistinctKeys(t *testing.T) {
	c := New[string, int](time.Minute)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(fmt.Sprintf("key-%d", i), i)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, c.Len())
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, ok := c.Get(fmt.Sprintf("key-%d", i))
			assert.True(t, ok)
			assert.Equal(t, i, v)
		}(i)
	}
	wg.Wait()
}

func TestConcurrentSameKey(t *testing.T) {
	c := New[string, int](time.Minute)

	// Hammer one key from many writers while readers poll it. The race
	// detector verifies safety; afterwards the key must hold one of the
	// written values.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Put("shared", i)
		}(i)
		go func() {
			defer wg.Done()
			c.Get("shared")
		}()
	}
	wg.Wait()

	v, ok := c.Get("shared")
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0)
	assert.Less(t, v, 32)
	assert.Equal(t, 1, c.Len())
}

// ---------------------------------------------------------------------------
// Disk Snapshots
// ---------------------------------------------------------------------------

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "cache.json")

	c1 := New[string, string](time.Hour)
	c1.Put("UA100", "sched-a")
	c1.Put("BA285", "sched-b")
	require.NoError(t, SaveFile(c1, path))

	c2 := New[string, string](time.Hour)
	require.NoError(t, LoadFile(c2, path))

	v, ok := c2.Get("UA100")
	require.True(t, ok)
	assert.Equal(t, "sched-a", v)
	assert.Equal(t, 2, c2.Len())
}

func TestLoadFileDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c1 := New[string, string](time.Hour)
	c1.Put("stale", "v")
	require.NoError(t, SaveFile(c1, path))

	// A receiving cache with a tiny TTL treats the snapshot as aged out.
	c2 := New[string, string](time.Nanosecond)
	require.NoError(t, LoadFile(c2, path))
	assert.True(t, c2.IsEmpty())
}

func TestLoadFileMissing(t *testing.T) {
	c := New[string, string](time.Hour)
	err := LoadFile(c, filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func BenchmarkPut(b *testing.B) {
	c := New[string, int](time.Minute)
	for i := 0; i < b.N; i++ {
		c.Put(fmt.Sprintf("k-%d", i%10000), i)
	}
}

func BenchmarkGet(b *testing.B) {
	c := New[string, int](time.Minute)
	for i := 0; i < 10000; i++ {
		c.Put(fmt.Sprintf("k-%d", i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(fmt.Sprintf("k-%d", i%10000))
	}
}
