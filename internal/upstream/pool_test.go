package upstream

import (
	"context"
	"testing"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpstream(id string, nodes map[string]uint) *registry.Upstream {
	return &registry.Upstream{
		ID:       id,
		Nodes:    nodes,
		Type:     registry.BalancerRoundRobin,
		Scheme:   registry.SchemeHTTP,
		PassHost: registry.PassHostNode,
		Timeout:  registry.DefaultTimeout(),
	}
}

// TestPool_LiteralIPNodesSkipResolution verifies the common case (nodes
// already configured as IP:port) never touches the resolver.
func TestPool_LiteralIPNodesSkipResolution(t *testing.T) {
	p := newPool(testUpstream("up1", map[string]uint{"127.0.0.1:9001": 1}))
	require.Len(t, p.nodes, 1)
	assert.Equal(t, "127.0.0.1:9001", p.nodes[0].Address)
}

// TestPool_DNSRefreshRebuildsNodesOnAddressChange verifies spec §4.B's "an
// address-list change triggers a pool rebuild": when the resolved address
// for a configured hostname changes, refreshDNS swaps in a new node list and
// balancer built from the new address.
func TestPool_DNSRefreshRebuildsNodesOnAddressChange(t *testing.T) {
	p := newPool(testUpstream("up1", map[string]uint{"svc.internal:8080": 3}))

	p.resolver.mu.Lock()
	p.resolver.entries = map[string]resolvedEntry{}
	p.resolver.mu.Unlock()
	p.resolver.lookup = func(ctx context.Context, host string) ([]string, error) {
		return []string{"10.0.0.2"}, nil
	}

	p.refreshDNS(context.Background())

	p.mu.RLock()
	defer p.mu.RUnlock()
	require.Len(t, p.nodes, 1)
	assert.Equal(t, "10.0.0.2:8080", p.nodes[0].Address)
	assert.EqualValues(t, 3, p.nodes[0].Weight, "a resolved node keeps its spec's configured weight")
}

// TestPool_DNSRefreshPreservesHealthStateWhenAddressIsStable confirms an
// unchanged resolution is a no-op: the existing *Node (and its accumulated
// health counters) is left alone rather than rebuilt.
func TestPool_DNSRefreshPreservesHealthStateWhenAddressIsStable(t *testing.T) {
	p := newPool(testUpstream("up1", map[string]uint{"127.0.0.1:9001": 1}))
	p.nodes[0].setHealthy(false)

	p.refreshDNS(context.Background())

	p.mu.RLock()
	defer p.mu.RUnlock()
	require.Len(t, p.nodes, 1)
	assert.False(t, p.nodes[0].Healthy(), "a stable resolution must not replace the existing Node")
}

func TestSameConfig_DetectsNodeWeightChange(t *testing.T) {
	a := testUpstream("up1", map[string]uint{"127.0.0.1:9001": 1})
	b := testUpstream("up1", map[string]uint{"127.0.0.1:9001": 2})
	assert.False(t, sameConfig(a, b))
}
