package proxy

import (
	"context"
	"testing"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/accesspoint/gateway/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool builds a real *upstream.Pool (via the Manager's exported
// surface, newPool itself is package-private to upstream) for one Upstream
// configured with passHost, so hostFor can be exercised against every
// pass_host mode.
func testPool(t *testing.T, passHost registry.PassHostMode) *upstream.Pool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mgr := upstream.NewManager(ctx)
	cfg := &registry.Upstream{
		ID:           "up1",
		Nodes:        map[string]uint{"127.0.0.1:9001": 1},
		Type:         registry.BalancerRoundRobin,
		Scheme:       registry.SchemeHTTP,
		PassHost:     passHost,
		UpstreamHost: "configured.example.com",
		Timeout:      registry.DefaultTimeout(),
	}
	snap := &registry.Snapshot{Upstreams: map[string]*registry.Upstream{"up1": cfg}}
	mgr.OnPublish(ctx, snap, []registry.ResourceType{registry.TypeUpstream})

	pool, err := mgr.Get("up1")
	require.NoError(t, err)
	return pool
}

func TestHostFor_RewriteUsesUpstreamHost(t *testing.T) {
	pool := testPool(t, registry.PassHostRewrite)
	node := &upstream.Node{Address: "10.0.0.5:80"}
	assert.Equal(t, "configured.example.com", hostFor(pool, node, "original.example.com"))
}

func TestHostFor_NodeUsesSelectedNodeAddress(t *testing.T) {
	pool := testPool(t, registry.PassHostNode)
	node := &upstream.Node{Address: "10.0.0.5:80"}
	assert.Equal(t, "10.0.0.5:80", hostFor(pool, node, "original.example.com"))
}

func TestHostFor_PassPreservesOriginalHostHeader(t *testing.T) {
	pool := testPool(t, registry.PassHostPass)
	node := &upstream.Node{Address: "10.0.0.5:80"}
	assert.Equal(t, "original.example.com", hostFor(pool, node, "original.example.com"))
}

func TestClassify_Admin(t *testing.T) {
	assert.Equal(t, KindAdmin, Classify("/admin/resources"))
}

func TestClassify_BareMCPPrefixes(t *testing.T) {
	assert.Equal(t, KindMCP, Classify("/sse"))
	assert.Equal(t, KindMCP, Classify("/mcp"))
	assert.Equal(t, KindMCP, Classify("/sse/"))
}

func TestClassify_PerServiceMCPPrefixes(t *testing.T) {
	assert.Equal(t, KindMCP, Classify("/api/billing/sse"))
	assert.Equal(t, KindMCP, Classify("/api/billing/mcp"))
}

func TestClassify_PlainProxyFallthrough(t *testing.T) {
	assert.Equal(t, KindPlainProxy, Classify("/api/billing/invoices"))
	assert.Equal(t, KindPlainProxy, Classify("/widgets/42"))
}

func TestIsIdempotent(t *testing.T) {
	assert.True(t, isIdempotent("GET"))
	assert.True(t, isIdempotent("PUT"))
	assert.True(t, isIdempotent("DELETE"))
	assert.False(t, isIdempotent("POST"))
	assert.False(t, isIdempotent("PATCH"))
}
