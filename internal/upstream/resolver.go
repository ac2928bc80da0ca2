package upstream

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// resolverTTL is how long one hostname's resolution is cached before the
// next pool build or refresh tick re-resolves it (spec §4.B "DNS names in
// nodes are resolved on pool build and re-resolved on TTL expiry").
const resolverTTL = 30 * time.Second

// dnsRefreshInterval is how often a live pool re-checks its resolved node
// addresses for drift.
const dnsRefreshInterval = 10 * time.Second

type resolvedEntry struct {
	addrs     []string
	expiresAt time.Time
}

// resolverCache resolves a configured node's host:port into one or more
// live IP:port addresses, caching each hostname's resolution for
// resolverTTL and collapsing concurrent re-resolutions of the same
// hostname into a single lookup via singleflight, so a TTL expiry under
// load doesn't fan out N identical DNS queries.
type resolverCache struct {
	mu      sync.RWMutex
	entries map[string]resolvedEntry
	group   singleflight.Group
	lookup  func(ctx context.Context, host string) ([]string, error)
}

func newResolverCache() *resolverCache {
	return &resolverCache{
		entries: map[string]resolvedEntry{},
		lookup:  net.DefaultResolver.LookupHost,
	}
}

// Resolve returns the current address list for hostPort. A literal IP
// address is returned unchanged without consulting the cache or resolver.
// A hostname is resolved (or served from cache, if within TTL) into one
// address per A/AAAA record, each carrying hostPort's port.
func (r *resolverCache) Resolve(ctx context.Context, hostPort string) ([]string, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return []string{hostPort}, nil
	}
	if net.ParseIP(host) != nil {
		return []string{hostPort}, nil
	}

	if addrs, fresh := r.cached(host); fresh {
		return withPort(addrs, port), nil
	}

	v, err, _ := r.group.Do(host, func() (any, error) {
		ips, err := r.lookup(ctx, host)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.entries[host] = resolvedEntry{addrs: ips, expiresAt: time.Now().Add(resolverTTL)}
		r.mu.Unlock()
		return ips, nil
	})
	if err != nil {
		if addrs, ok := r.cached(host); ok {
			return withPort(addrs, port), nil
		}
		return nil, err
	}
	return withPort(v.([]string), port), nil
}

// cached returns the cached address list for host and whether it is still
// within its TTL. A stale-but-present entry is returned with fresh=false so
// callers can fall back to it if a re-resolution attempt fails.
func (r *resolverCache) cached(host string) (addrs []string, fresh bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[host]
	if !ok {
		return nil, false
	}
	return entry.addrs, time.Now().Before(entry.expiresAt)
}

func withPort(ips []string, port string) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = net.JoinHostPort(ip, port)
	}
	return out
}
