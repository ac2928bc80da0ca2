package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverCache_LiteralIPBypassesLookup(t *testing.T) {
	r := newResolverCache()
	var calls int32
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	addrs, err := r.Resolve(context.Background(), "127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:8080"}, addrs)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestResolverCache_CachesWithinTTL(t *testing.T) {
	r := newResolverCache()
	var calls int32
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"10.0.0.1"}, nil
	}

	for i := 0; i < 5; i++ {
		addrs, err := r.Resolve(context.Background(), "svc.internal:80")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1:80"}, addrs)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a fresh cache entry should serve repeated lookups without re-resolving")
}

func TestResolverCache_ReResolvesAfterTTL(t *testing.T) {
	r := newResolverCache()
	var calls int32
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return []string{"10.0.0.1"}, nil
		}
		return []string{"10.0.0.2"}, nil
	}

	first, err := r.Resolve(context.Background(), "svc.internal:80")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:80"}, first)

	r.mu.Lock()
	entry := r.entries["svc.internal"]
	entry.expiresAt = time.Now().Add(-time.Second)
	r.entries["svc.internal"] = entry
	r.mu.Unlock()

	second, err := r.Resolve(context.Background(), "svc.internal:80")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:80"}, second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// TestResolverCache_SingleflightDedupesConcurrentLookups verifies that N
// concurrent Resolve calls for the same expired hostname collapse into one
// underlying lookup (spec §4.B "DNS re-resolution de-duplication").
func TestResolverCache_SingleflightDedupesConcurrentLookups(t *testing.T) {
	r := newResolverCache()
	var calls int32
	release := make(chan struct{})
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"10.0.0.1"}, nil
	}

	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			addrs, err := r.Resolve(context.Background(), "svc.internal:80")
			assert.NoError(t, err)
			assert.Equal(t, []string{"10.0.0.1:80"}, addrs)
		}()
	}

	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestResolverCache_FailedReResolveFallsBackToStaleEntry(t *testing.T) {
	r := newResolverCache()
	var calls int32
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return []string{"10.0.0.1"}, nil
		}
		return nil, assertError{}
	}

	first, err := r.Resolve(context.Background(), "svc.internal:80")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:80"}, first)

	r.mu.Lock()
	entry := r.entries["svc.internal"]
	entry.expiresAt = time.Now().Add(-time.Second)
	r.entries["svc.internal"] = entry
	r.mu.Unlock()

	second, err := r.Resolve(context.Background(), "svc.internal:80")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:80"}, second, "a failed re-resolution should keep serving the last known-good addresses")
}

type assertError struct{}

func (assertError) Error() string { return "lookup failed" }
