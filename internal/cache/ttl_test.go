package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCachesUntilExpiry(t *testing.T) {
	c := New[int](50 * time.Millisecond)
	var calls int
	load := func() (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.Get("status", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Get("status", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "second read within ttl should hit")

	time.Sleep(80 * time.Millisecond)

	v, err = c.Get("status", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "read after ttl should reload")
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	c := New[string](time.Minute)
	boom := errors.New("sensor read failed")

	_, err := c.Get("temp", func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.Get("temp", func() (string, error) { return "41.0°C", nil })
	require.NoError(t, err)
	assert.Equal(t, "41.0°C", v)
}

func TestInvalidateAndFlush(t *testing.T) {
	c := New[int](time.Minute)
	_, _ = c.Get("a", func() (int, error) { return 1, nil })
	_, _ = c.Get("b", func() (int, error) { return 2, nil })

	c.Invalidate("a")
	_, ok := c.Peek("a")
	assert.False(t, ok)
	v, ok := c.Peek("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Flush()
	_, ok = c.Peek("b")
	assert.False(t, ok)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c := New[int](time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get("ifaces", func() (int, error) {
				loads.Add(1)
				<-release
				return 7, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		c := New[int](ttl)
		var calls int
		load := func() (int, error) {
			calls++
			return calls, nil
		}

		v, err := c.Get("status", load)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = c.Get("status", load)
		require.NoError(t, err)
		assert.Equal(t, 2, v, "ttl %s must not cache", ttl)

		_, ok := c.Peek("status")
		assert.False(t, ok)
		assert.Equal(t, time.Duration(0), c.TTL())
	}
}
