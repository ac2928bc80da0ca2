// Package router implements component C: an immutable, prefix-matching
// route index rebuilt from the registry snapshot whenever a Route or
// Service changes (spec §4.C).
package router

import (
	"context"
	"sort"
	"strings"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/registry"
)

// Match is the result of resolving one (host, method, path) request:
// the winning Route plus any captured {name} path parameters.
type Match struct {
	Route  *registry.Route
	Params map[string]string
}

// compiledRoute is one Route's precomputed matching shape.
type compiledRoute struct {
	route       *registry.Route
	pattern     string
	segments    []segment
	staticLen   int // length of the longest static (non-parameter) prefix, for precedence
	hostKind    int // 2 = exact, 1 = wildcard, 0 = any (no hosts declared)
	hosts       []string
	methods     map[string]bool
}

type segment struct {
	literal  string
	isParam  bool
	isGreedy bool // terminal "*"
}

// Index is an immutable, built-once route table. Build a new Index and
// swap it atomically whenever the registry publishes a change affecting
// Route or Service (spec §4.C "Rebuilt whenever...").
type Index struct {
	routes []*compiledRoute
}

// Build compiles every Route in snap into an Index, grouped implicitly by
// precedence at match time rather than at build time (the route table is
// small enough that a full scan per request is simpler and just as
// deterministic as a trie).
func Build(snap *registry.Snapshot) *Index {
	idx := &Index{}
	for _, rt := range snap.Routes {
		for _, pattern := range rt.Patterns() {
			idx.routes = append(idx.routes, compile(rt, pattern))
		}
	}
	// Precompute the deterministic match order once at build time: host
	// kind desc, static-prefix-length desc, priority desc, route id asc
	// (spec §4.C precedence). Match() then just walks in this order and
	// returns the first that matches.
	sort.SliceStable(idx.routes, func(i, j int) bool {
		a, b := idx.routes[i], idx.routes[j]
		if a.hostKind != b.hostKind {
			return a.hostKind > b.hostKind
		}
		if a.staticLen != b.staticLen {
			return a.staticLen > b.staticLen
		}
		if a.route.Priority != b.route.Priority {
			return a.route.Priority > b.route.Priority
		}
		return a.route.ID < b.route.ID
	})
	return idx
}

func compile(rt *registry.Route, pattern string) *compiledRoute {
	c := &compiledRoute{route: rt, pattern: pattern, hosts: rt.Hosts}
	if len(rt.Hosts) == 0 {
		c.hostKind = 0
	} else {
		c.hostKind = 2
		for _, h := range rt.Hosts {
			if strings.HasPrefix(h, "*.") {
				c.hostKind = 1
			}
		}
	}
	if len(rt.Methods) > 0 {
		c.methods = make(map[string]bool, len(rt.Methods))
		for _, m := range rt.Methods {
			c.methods[strings.ToUpper(m)] = true
		}
	}
	c.segments, c.staticLen = compilePattern(pattern)
	return c
}

// compilePattern splits a path pattern into literal/{name}/* segments and
// measures the static (literal) prefix length in characters, which is the
// tie-break unit the "longest static prefix" precedence rule uses.
func compilePattern(pattern string) ([]segment, int) {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := make([]segment, 0, len(parts))
	staticLen := 0
	stillStatic := true
	for _, part := range parts {
		switch {
		case part == "*":
			segs = append(segs, segment{isGreedy: true})
			stillStatic = false
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			segs = append(segs, segment{literal: strings.Trim(part, "{}"), isParam: true})
			stillStatic = false
		default:
			segs = append(segs, segment{literal: part})
			if stillStatic {
				staticLen += len(part) + 1
			}
		}
	}
	return segs, staticLen
}

// Match resolves (host, method, path) against the compiled index, per the
// spec's documented precedence. Returns NoRoute if nothing matches.
func (idx *Index) Match(host, method, path string) (*Match, error) {
	for _, c := range idx.routes {
		if !c.matchesHost(host) {
			continue
		}
		if c.methods != nil && !c.methods[strings.ToUpper(method)] {
			continue
		}
		if params, ok := matchPath(c.segments, path); ok {
			return &Match{Route: c.route, Params: params}, nil
		}
	}
	return nil, gwerrors.New(gwerrors.KindNoRoute, "no route matched "+method+" "+path)
}

func (c *compiledRoute) matchesHost(host string) bool {
	if len(c.hosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range c.hosts {
		h = strings.ToLower(h)
		if h == host {
			return true
		}
		if strings.HasPrefix(h, "*.") && strings.HasSuffix(host, h[1:]) {
			return true
		}
	}
	return false
}

func matchPath(segs []segment, path string) (map[string]string, bool) {
	reqParts := strings.Split(strings.Trim(path, "/"), "/")
	var params map[string]string

	for i, seg := range segs {
		if seg.isGreedy {
			return params, true // terminal "*" consumes the rest, including zero segments
		}
		if i >= len(reqParts) {
			return nil, false
		}
		if seg.isParam {
			if params == nil {
				params = map[string]string{}
			}
			params[seg.literal] = reqParts[i]
			continue
		}
		if seg.literal != reqParts[i] {
			return nil, false
		}
	}
	if len(segs) != len(reqParts) {
		return nil, false
	}
	return params, true
}

// RouteCount implements registry.RouteIndexer.
func (idx *Index) RouteCount() int { return len(idx.routes) }

// Manager holds the currently live Index behind a value swap and
// implements registry.Listener so it rebuilds whenever Routes or Services
// change.
type Manager struct {
	idx *Index
}

func NewManager(snap *registry.Snapshot) *Manager {
	return &Manager{idx: Build(snap)}
}

func (m *Manager) Current() *Index { return m.idx }

func (m *Manager) OnPublish(ctx context.Context, snap *registry.Snapshot, affected []registry.ResourceType) {
	for _, t := range affected {
		if t == registry.TypeRoute || t == registry.TypeService {
			m.idx = Build(snap)
			obslog.FromContext(ctx).Info("router rebuilt", "routes", m.idx.RouteCount())
			return
		}
	}
}
