package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryTier_ExpiredEntryIsEvicted(t *testing.T) {
	clock := newFakeClock()
	m, err := NewMemoryTier(10, 0, clock.Now)
	require.NoError(t, err)

	m.Set("homepage", []byte("v1"), time.Minute)
	e, ok := m.Get("homepage")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), e.Value)

	clock.Advance(time.Minute)
	_, ok = m.Get("homepage")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(0), m.Bytes())
}

func TestMemoryTier_EvictsLeastRecentlyUsed(t *testing.T) {
	m, err := NewMemoryTier(2, 0, nil)
	require.NoError(t, err)

	m.Set("a", []byte("1"), time.Minute)
	m.Set("b", []byte("2"), time.Minute)
	_, ok := m.Get("a")
	require.True(t, ok)

	m.Set("c", []byte("3"), time.Minute)

	_, ok = m.Peek("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = m.Peek("a")
	assert.True(t, ok)
	_, ok = m.Peek("c")
	assert.True(t, ok)
}

func TestMemoryTier_ByteBound(t *testing.T) {
	m, err := NewMemoryTier(100, 10, nil)
	require.NoError(t, err)

	m.Set("a", []byte("1234"), time.Minute) // 5 bytes
	m.Set("b", []byte("1234"), time.Minute) // 10 bytes
	assert.Equal(t, int64(10), m.Bytes())

	m.Set("c", []byte("1234"), time.Minute)
	assert.Equal(t, int64(10), m.Bytes())
	_, ok := m.Peek("a")
	assert.False(t, ok)

	m.Set("huge", make([]byte, 64), time.Minute)
	_, ok = m.Peek("huge")
	assert.False(t, ok, "oversized values are not stored")
	assert.Equal(t, 2, m.Len())
}

func TestMemoryTier_OverwriteKeepsAccounting(t *testing.T) {
	m, err := NewMemoryTier(10, 0, nil)
	require.NoError(t, err)

	m.Set("k", []byte("short"), time.Minute)
	m.Set("k", []byte("much longer value"), time.Minute)
	assert.Equal(t, int64(len("k")+len("much longer value")), m.Bytes())

	assert.True(t, m.Delete("k"))
	assert.False(t, m.Delete("k"))
	assert.Equal(t, int64(0), m.Bytes())
}

func TestMemoryTier_ValueIsCopied(t *testing.T) {
	m, err := NewMemoryTier(10, 0, nil)
	require.NoError(t, err)

	v := []byte("abc")
	m.Set("k", v, time.Minute)
	v[0] = 'z'

	e, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(e.Value))
}
