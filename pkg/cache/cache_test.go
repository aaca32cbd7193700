package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cexll/schemafetch-go/pkg/cache"
	"github.com/stretchr/testify/require"
)

func TestGetCachesSuccessfulLoad(t *testing.T) {
	c := cache.New[string](cache.Config{TTL: time.Minute, DisableAutoSweep: true})
	var calls atomic.Int32

	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	v1, err := c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)
	require.Equal(t, "value", v1)

	v2, err := c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)
	require.Equal(t, "value", v2)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetDoesNotCacheFailures(t *testing.T) {
	c := cache.New[string](cache.Config{TTL: time.Minute, DisableAutoSweep: true})
	var calls atomic.Int32

	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("boom")
	}

	_, err := c.Get(context.Background(), "k", loader, 0)
	require.Error(t, err)
	_, err = c.Get(context.Background(), "k", loader, 0)
	require.Error(t, err)

	require.Equal(t, int32(2), calls.Load())
}

func TestGetSingleFlightsConcurrentMisses(t *testing.T) {
	c := cache.New[string](cache.Config{TTL: time.Minute, DisableAutoSweep: true})
	var calls atomic.Int32
	release := make(chan struct{})

	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "shared", loader, 0)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Equal(t, "value", r)
	}
}

func TestExpiredEntryTriggersReload(t *testing.T) {
	c := cache.New[string](cache.Config{TTL: 30 * time.Millisecond, DisableAutoSweep: true})
	var calls atomic.Int32

	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	_, err := c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestConfigureTTLInvalidatesEntries(t *testing.T) {
	c := cache.New[string](cache.Config{TTL: time.Minute, DisableAutoSweep: true})
	var calls atomic.Int32

	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	_, err := c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)

	c.Configure(time.Millisecond, 0)

	_, err = c.Get(context.Background(), "k", loader, 0)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestKeyIsDeterministicAndCaseInsensitiveOnHeaderNames(t *testing.T) {
	k1 := cache.Key("/x", map[string]string{"Accept": "json", "X-Id": "1"})
	k2 := cache.Key("/x", map[string]string{"accept": "json", "x-id": "1"})
	require.Equal(t, k1, k2)

	k3 := cache.Key("/x", map[string]string{"accept": "xml", "x-id": "1"})
	require.NotEqual(t, k1, k3)
}
