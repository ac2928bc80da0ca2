package upstream

import (
	"hash/crc32"
	"hash/fnv"
	"math/rand/v2"
	"net"
	"sort"
	"sync/atomic"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/registry"
)

// Balancer selects a healthy node for one request. key is the
// ConsistentHash/IpHash selector value (client IP or a request-supplied
// header, per spec §4.B); it is ignored by RoundRobin and Random.
type Balancer interface {
	Pick(key string) (*Node, error)
}

func newBalancer(kind registry.BalancerType, nodes []*Node) Balancer {
	sorted := append([]*Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	switch kind {
	case registry.BalancerRandom:
		return &randomBalancer{nodes: sorted}
	case registry.BalancerIPHash:
		return &ipHashBalancer{nodes: sorted}
	case registry.BalancerConsistentHash:
		return newConsistentHashBalancer(sorted)
	default:
		return &roundRobinBalancer{nodes: sorted}
	}
}

func healthyNodes(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Healthy() {
			out = append(out, n)
		}
	}
	return out
}

func totalWeight(nodes []*Node) uint {
	var sum uint
	for _, n := range nodes {
		sum += n.Weight
	}
	return sum
}

// roundRobinBalancer implements weighted round robin (spec §4.B): each
// healthy node is repeated Weight times consecutively, in address order, and
// an atomic index walks that list, so a node's picks come in runs of its
// weight rather than interleaved with other nodes.
type roundRobinBalancer struct {
	nodes []*Node
	idx   uint64
}

func (b *roundRobinBalancer) Pick(string) (*Node, error) {
	healthy := healthyNodes(b.nodes)
	if len(healthy) == 0 {
		return nil, gwerrors.New(gwerrors.KindNoHealthyUpstream, "no healthy nodes")
	}
	expanded := expandByWeight(healthy)
	i := atomic.AddUint64(&b.idx, 1) - 1
	return expanded[i%uint64(len(expanded))], nil
}

// expandByWeight repeats each node Weight times in address order, giving a
// deterministic weighted rotation without floating point.
func expandByWeight(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		w := n.Weight
		if w == 0 {
			w = 1
		}
		for i := uint(0); i < w; i++ {
			out = append(out, n)
		}
	}
	return out
}

type randomBalancer struct {
	nodes []*Node
}

func (b *randomBalancer) Pick(string) (*Node, error) {
	healthy := healthyNodes(b.nodes)
	if len(healthy) == 0 {
		return nil, gwerrors.New(gwerrors.KindNoHealthyUpstream, "no healthy nodes")
	}
	total := totalWeight(healthy)
	if total == 0 {
		return healthy[rand.IntN(len(healthy))], nil
	}
	r := uint(rand.IntN(int(total)))
	var acc uint
	for _, n := range healthy {
		acc += n.Weight
		if r < acc {
			return n, nil
		}
	}
	return healthy[len(healthy)-1], nil
}

// ipHashBalancer hashes the client key modulo the sum of weights, mapping
// into the weight-sorted node list: same client maps to the same node for as
// long as the node set is stable (spec §4.B).
type ipHashBalancer struct {
	nodes []*Node
}

func (b *ipHashBalancer) Pick(key string) (*Node, error) {
	healthy := healthyNodes(b.nodes)
	if len(healthy) == 0 {
		return nil, gwerrors.New(gwerrors.KindNoHealthyUpstream, "no healthy nodes")
	}
	if host, _, err := net.SplitHostPort(key); err == nil {
		key = host
	}
	total := totalWeight(healthy)
	if total == 0 {
		total = uint(len(healthy))
	}
	h := crc32.ChecksumIEEE([]byte(key))
	target := uint(h) % total
	var acc uint
	for _, n := range healthy {
		w := n.Weight
		if w == 0 {
			w = 1
		}
		acc += w
		if target < acc {
			return n, nil
		}
	}
	return healthy[len(healthy)-1], nil
}

// consistentHashBalancer is a hash ring keyed by a request-supplied key,
// virtual-node count proportional to weight (spec §4.B).
type consistentHashBalancer struct {
	ring    []uint32
	byPoint map[uint32]*Node
}

const virtualNodesPerWeight = 40

func newConsistentHashBalancer(nodes []*Node) *consistentHashBalancer {
	b := &consistentHashBalancer{byPoint: map[uint32]*Node{}}
	for _, n := range nodes {
		w := n.Weight
		if w == 0 {
			w = 1
		}
		vCount := int(w) * virtualNodesPerWeight
		for i := 0; i < vCount; i++ {
			h := fnvHash(n.Address, i)
			b.ring = append(b.ring, h)
			b.byPoint[h] = n
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	return b
}

func fnvHash(s string, salt int) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte{byte(salt), byte(salt >> 8)})
	return h.Sum32()
}

func (b *consistentHashBalancer) Pick(key string) (*Node, error) {
	if len(b.ring) == 0 {
		return nil, gwerrors.New(gwerrors.KindNoHealthyUpstream, "no healthy nodes")
	}
	h := fnvHash(key, 0)
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= h })
	for i := 0; i < len(b.ring); i++ {
		candidate := b.byPoint[b.ring[(idx+i)%len(b.ring)]]
		if candidate.Healthy() {
			return candidate, nil
		}
	}
	return nil, gwerrors.New(gwerrors.KindNoHealthyUpstream, "no healthy nodes")
}
