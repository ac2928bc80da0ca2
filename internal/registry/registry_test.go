package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpstream(id string) *Upstream {
	return &Upstream{
		ID:       id,
		Nodes:    map[string]uint{"127.0.0.1:8090": 1},
		Type:     BalancerRoundRobin,
		Scheme:   SchemeHTTP,
		PassHost: PassHostPass,
		Timeout:  DefaultTimeout(),
	}
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Create(ctx, TypeUpstream, "u1", testUpstream("u1"))
	require.NoError(t, err)

	got, err := r.Get(TypeUpstream, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.(*Upstream).ID)

	err = r.Delete(ctx, TypeUpstream, "u1")
	require.NoError(t, err)

	_, err = r.Get(TypeUpstream, "u1")
	assert.Error(t, err)
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := New()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, TypeUpstream, "u1", testUpstream("u1")))

	err := r.Create(ctx, TypeUpstream, "u1", testUpstream("u1"))
	assert.Error(t, err)
}

func TestRegistry_UpstreamInvariants(t *testing.T) {
	r := New()
	ctx := context.Background()

	t.Run("no nodes", func(t *testing.T) {
		u := testUpstream("bad")
		u.Nodes = map[string]uint{}
		err := r.Create(ctx, TypeUpstream, "bad", u)
		assert.Error(t, err)
	})

	t.Run("zero weight", func(t *testing.T) {
		u := testUpstream("bad2")
		u.Nodes["x:80"] = 0
		err := r.Create(ctx, TypeUpstream, "bad2", u)
		assert.Error(t, err)
	})

	t.Run("rewrite requires upstream_host", func(t *testing.T) {
		u := testUpstream("bad3")
		u.PassHost = PassHostRewrite
		err := r.Create(ctx, TypeUpstream, "bad3", u)
		assert.Error(t, err)
	})
}

// S4 (Dependency refusal): deleting an upstream a service depends on fails
// with InUse listing the referrer; once removed, deletion succeeds.
func TestRegistry_DependencySafety(t *testing.T) {
	r := New()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, TypeUpstream, "1", testUpstream("1")))
	require.NoError(t, r.Create(ctx, TypeService, "s", &Service{ID: "s", UpstreamID: "1"}))

	err := r.Delete(ctx, TypeUpstream, "1")
	require.Error(t, err)
	ge, ok := err.(interface{ Error() string })
	require.True(t, ok)
	assert.Contains(t, ge.Error(), "InUse")

	require.NoError(t, r.Delete(ctx, TypeService, "s"))
	assert.NoError(t, r.Delete(ctx, TypeUpstream, "1"))
}

// S5 (Batch atomicity): a batch creating upstream+service with a valid
// reference succeeds; a batch with a dangling reference fails as a whole and
// leaves the prior snapshot untouched.
func TestRegistry_BatchAtomicity(t *testing.T) {
	r := New()
	ctx := context.Background()

	ok := []Op{
		{Kind: OpCreate, ResourceType: TypeUpstream, ID: "u", Value: testUpstream("u")},
		{Kind: OpCreate, ResourceType: TypeService, ID: "v", Value: &Service{ID: "v", UpstreamID: "u"}},
	}
	require.NoError(t, r.Batch(ctx, ok, false))

	before := r.Snapshot()

	bad := []Op{
		{Kind: OpCreate, ResourceType: TypeService, ID: "w", Value: &Service{ID: "w", UpstreamID: "missing"}},
		{Kind: OpCreate, ResourceType: TypeUpstream, ID: "u2", Value: testUpstream("u2")},
	}
	err := r.Batch(ctx, bad, false)
	require.Error(t, err)

	after := r.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	_, err = r.Get(TypeUpstream, "u2")
	assert.Error(t, err, "u2 must not exist after the failed batch")
}

func TestRegistry_DryRunNeverPublishes(t *testing.T) {
	r := New()
	ctx := context.Background()
	before := r.Snapshot()

	ops := []Op{{Kind: OpCreate, ResourceType: TypeUpstream, ID: "u", Value: testUpstream("u")}}
	require.NoError(t, r.Batch(ctx, ops, true))

	after := r.Snapshot()
	assert.Same(t, before, after)
	_, err := r.Get(TypeUpstream, "u")
	assert.Error(t, err)
}

func TestRegistry_Stats_FixedOrder(t *testing.T) {
	r := New()
	stats := r.Stats()
	for _, want := range StatsOrder {
		_, ok := stats[want]
		assert.True(t, ok, "missing stats entry for %s", want)
	}
	assert.Equal(t, []ResourceType{TypeMcpService, TypeSSL, TypeGlobalRule, TypeRoute, TypeUpstream, TypeService}, StatsOrder)
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := New()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, TypeUpstream, "u", testUpstream("u")))

	held := r.Snapshot()
	require.NoError(t, r.Create(ctx, TypeUpstream, "u2", testUpstream("u2")))

	_, ok := held.Upstreams["u2"]
	assert.False(t, ok, "snapshot held before the second write must not observe it")
	assert.Len(t, r.Snapshot().Upstreams, 2)
}
