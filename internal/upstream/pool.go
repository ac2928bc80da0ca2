package upstream

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

// Pool bundles one Upstream's live node set, balancer and outbound HTTP
// client, plus the active health-check and DNS re-resolution loops that keep
// the node set current (spec §4.B).
type Pool struct {
	id       string
	cfg      *registry.Upstream
	resolver *resolverCache

	mu       sync.RWMutex
	nodes    []*Node
	bal      Balancer
	resolved map[string][]string // configured node address -> last resolved addresses

	client *resty.Client

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func newPool(cfg *registry.Upstream) *Pool {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Timeout.Read * float64(time.Second))).
		SetRetryCount(0) // retry policy is the proxy core's responsibility, not the pool's

	p := &Pool{
		id:       cfg.ID,
		cfg:      cfg,
		resolver: newResolverCache(),
		client:   client,
		done:     make(chan struct{}),
	}

	resolved := p.resolveSpecs(context.Background())
	nodes := nodesFromResolution(cfg.Nodes, resolved, nil)
	p.nodes = nodes
	p.bal = newBalancer(cfg.Type, nodes)
	p.resolved = resolved
	return p
}

// resolveSpecs resolves every configured node address, falling back to the
// address itself (so a transient lookup failure at pool-build time still
// yields a usable node, healthy like any new node, rather than an empty
// pool).
func (p *Pool) resolveSpecs(ctx context.Context) map[string][]string {
	out := make(map[string][]string, len(p.cfg.Nodes))
	for addr := range p.cfg.Nodes {
		addrs, err := p.resolver.Resolve(ctx, addr)
		if err != nil || len(addrs) == 0 {
			out[addr] = []string{addr}
			continue
		}
		out[addr] = addrs
	}
	return out
}

// nodesFromResolution expands each configured spec's resolved addresses
// into Nodes, each inheriting the spec's configured weight. An address
// found in existing is reused as-is, preserving its accumulated health
// state across a DNS-driven rebuild.
func nodesFromResolution(weights map[string]uint, resolved map[string][]string, existing map[string]*Node) []*Node {
	specs := make([]string, 0, len(resolved))
	for addr := range resolved {
		specs = append(specs, addr)
	}
	sort.Strings(specs)

	var nodes []*Node
	for _, spec := range specs {
		for _, addr := range resolved[spec] {
			if n, ok := existing[addr]; ok {
				nodes = append(nodes, n)
				continue
			}
			nodes = append(nodes, newNode(addr, weights[spec]))
		}
	}
	return nodes
}

// Pick selects one healthy node for key (client IP or hash key, ignored by
// RoundRobin/Random), failing with NoHealthyUpstream if none are healthy.
func (p *Pool) Pick(key string) (*Node, error) {
	p.mu.RLock()
	bal := p.bal
	p.mu.RUnlock()
	return bal.Pick(key)
}

// Client returns the resty client configured for this upstream's timeouts.
func (p *Pool) Client() *resty.Client {
	return p.client
}

// Config returns the live Upstream configuration this pool was built from.
func (p *Pool) Config() *registry.Upstream {
	return p.cfg
}

// BaseURL builds the scheme://node URL for node per this upstream's scheme.
func (p *Pool) BaseURL(node *Node) string {
	return fmt.Sprintf("%s://%s", p.cfg.Scheme, node.Address)
}

// RecordPassive folds one request outcome into node's passive health state,
// a no-op if the upstream has no passive health check configured.
func (p *Pool) RecordPassive(node *Node, isFailure bool) {
	hc := p.cfg.HealthCheck
	if hc == nil || hc.Passive == nil {
		return
	}
	node.recordPassive(isFailure, hc.Passive.ErrorThreshold, time.Duration(hc.Passive.TimeoutThresholdSeconds*float64(time.Second)))
}

// start launches the pool's background loops: the periodic active
// health-check probe (if configured) and the DNS re-resolution loop, which
// always runs so a node's resolved address set stays current for the
// lifetime of the pool (spec §4.B "re-resolved on TTL expiry").
func (p *Pool) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.runDNSRefresh(ctx)

	if hc := p.cfg.HealthCheck; hc != nil && hc.Active != nil {
		p.wg.Add(1)
		go p.runActiveHealthCheck(ctx, hc.Active)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

func (p *Pool) runActiveHealthCheck(ctx context.Context, cfg *registry.ActiveHealthCheck) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Duration(cfg.IntervalSeconds * float64(time.Second)))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx, cfg)
		}
	}
}

// probeAll fans a GET probe out to every node concurrently (spec §4.B
// "active health check"), folding each result into the node's consecutive
// success/failure counters.
func (p *Pool) probeAll(ctx context.Context, cfg *registry.ActiveHealthCheck) {
	p.mu.RLock()
	nodes := p.nodes
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			ok := p.probeOne(gctx, n, cfg)
			n.recordActive(ok, cfg.HealthyThreshold, cfg.UnhealthyThreshold)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) probeOne(ctx context.Context, n *Node, cfg *registry.ActiveHealthCheck) bool {
	resp, err := p.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s://%s%s", p.cfg.Scheme, n.Address, cfg.Path))
	if err != nil {
		return false
	}
	return resp.StatusCode() < 500
}

// runDNSRefresh re-resolves every configured node address on each tick and,
// if the resolved address set drifted since the last check, rebuilds the
// pool's node list and balancer in place (spec §4.B "an address-list change
// triggers a pool rebuild"). Nodes whose resolved address survived the
// refresh keep their existing *Node, preserving accumulated health state.
func (p *Pool) runDNSRefresh(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshDNS(ctx)
		}
	}
}

func (p *Pool) refreshDNS(ctx context.Context) {
	resolved := p.resolveSpecs(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if sameResolution(p.resolved, resolved) {
		return
	}

	existing := make(map[string]*Node, len(p.nodes))
	for _, n := range p.nodes {
		existing[n.Address] = n
	}
	nodes := nodesFromResolution(p.cfg.Nodes, resolved, existing)

	p.nodes = nodes
	p.bal = newBalancer(p.cfg.Type, nodes)
	p.resolved = resolved
	obslog.FromContext(ctx).Info("upstream pool rebuilt: dns resolution changed", "upstream", p.id, "nodes", len(nodes))
}

// sameResolution reports whether two spec-address-to-resolved-address maps
// carry the same addresses, ignoring the order DNS returned them in.
func sameResolution(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for spec, aAddrs := range a {
		bAddrs, ok := b[spec]
		if !ok || len(aAddrs) != len(bAddrs) {
			return false
		}
		as := append([]string(nil), aAddrs...)
		bs := append([]string(nil), bAddrs...)
		sort.Strings(as)
		sort.Strings(bs)
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
	}
	return true
}

func (p *Pool) stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// Manager owns one Pool per live Upstream, rebuilding pools as the registry
// publishes new snapshots (spec §4.A "Publication" -> §4.B rebuild). It
// implements registry.Listener.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	ctx   context.Context
}

func NewManager(ctx context.Context) *Manager {
	return &Manager{pools: map[string]*Pool{}, ctx: ctx}
}

// Get returns the pool for upstreamID, failing with NotFound if the
// registry holds no such upstream.
func (m *Manager) Get(upstreamID string) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return nil, gwerrors.NotFound("upstreams", upstreamID)
	}
	return p, nil
}

// OnPublish rebuilds pools for upstreams that changed or were removed,
// leaving untouched pools (and their accumulated health state) alone.
func (m *Manager) OnPublish(ctx context.Context, snap *registry.Snapshot, affected []registry.ResourceType) {
	touchesUpstreams := false
	for _, t := range affected {
		if t == registry.TypeUpstream {
			touchesUpstreams = true
		}
	}
	if !touchesUpstreams {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*Pool, len(snap.Upstreams))
	for id, cfg := range snap.Upstreams {
		if existing, ok := m.pools[id]; ok && sameConfig(existing.cfg, cfg) {
			next[id] = existing
			continue
		}
		p := newPool(cfg)
		p.start(m.ctx)
		next[id] = p
	}
	for id, old := range m.pools {
		if _, kept := next[id]; !kept {
			old.stop()
		}
	}
	m.pools = next
	obslog.FromContext(ctx).Info("upstream pools rebuilt", "count", len(next))
}

func sameConfig(a, b *registry.Upstream) bool {
	if len(a.Nodes) != len(b.Nodes) || a.Type != b.Type || a.Scheme != b.Scheme {
		return false
	}
	if a.PassHost != b.PassHost || a.UpstreamHost != b.UpstreamHost || a.Timeout != b.Timeout ||
		a.Retries != b.Retries || a.HashKey != b.HashKey || len(a.Headers) != len(b.Headers) ||
		!reflect.DeepEqual(a.HealthCheck, b.HealthCheck) {
		return false
	}
	for k, v := range a.Headers {
		if bv, ok := b.Headers[k]; !ok || bv != v {
			return false
		}
	}
	for addr, w := range a.Nodes {
		if b.Nodes[addr] != w {
			return false
		}
	}
	return true
}
