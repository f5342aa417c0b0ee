package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClockedCache(ttl time.Duration) (*TTL[string, int], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[string, int](ttl)
	c.SetClock(clock.Now)
	return c, clock
}

func TestTTL_GetSet(t *testing.T) {
	c, clock := newClockedCache(15 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(14*time.Minute + 59*time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok, "still fresh just before expiry")

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired exactly at ttl")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(2), misses)
}

func TestTTL_Evict(t *testing.T) {
	c, clock := newClockedCache(time.Minute)

	c.Set("old", 1)
	clock.Advance(2 * time.Minute)
	c.Set("new", 2)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.Evict())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestTTL_Delete(t *testing.T) {
	c, _ := newClockedCache(time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTL_ConcurrentAccess(t *testing.T) {
	c := NewTTL[string, int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, i)
			c.Get(key)
			c.Evict()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
}
