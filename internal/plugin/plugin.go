// Package plugin implements the typed phase-hook chain of spec §4.D: the
// one extension seam the gateway exposes, assembled per-request from the
// global, service and route plugin configs in the live snapshot.
package plugin

import (
	"context"
	"net/http"
	"sort"

	"github.com/accesspoint/gateway/internal/registry"
)

// Verdict is what a request_filter hook returns: either Continue, letting
// the chain proceed, or Stop with a response to short-circuit it.
type Verdict struct {
	Stopped  bool
	Response *StoppedResponse
}

type StoppedResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func Continue() Verdict { return Verdict{} }

func Stop(resp *StoppedResponse) Verdict { return Verdict{Stopped: true, Response: resp} }

// Plugin is the gateway's one extension point (spec §4.D). Concrete
// plugins register a static Priority; the chain sorts by it descending.
type Plugin interface {
	Name() string
	Priority() int
	RequestFilter(ctx context.Context, req *http.Request, cfg map[string]any) (Verdict, error)
	UpstreamRequestFilter(ctx context.Context, req *http.Request, cfg map[string]any) error
	ResponseFilter(ctx context.Context, resp *http.Response, cfg map[string]any) error
	Logging(ctx context.Context, cfg map[string]any)
}

// BasePlugin gives concrete plugins no-op defaults for the hooks they
// don't need to implement, following the teacher's pattern of small
// embeddable base types for optional interface methods.
type BasePlugin struct{}

func (BasePlugin) RequestFilter(context.Context, *http.Request, map[string]any) (Verdict, error) {
	return Continue(), nil
}
func (BasePlugin) UpstreamRequestFilter(context.Context, *http.Request, map[string]any) error {
	return nil
}
func (BasePlugin) ResponseFilter(context.Context, *http.Response, map[string]any) error { return nil }
func (BasePlugin) Logging(context.Context, map[string]any)                              {}

// Registry resolves plugin names (as declared in Plugins maps) to Plugin
// implementations. Concrete plugins beyond the built-in logging plugin are
// out of scope (spec §4.D "concrete plugins are out of scope").
type Registry struct {
	byName map[string]Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{byName: map[string]Plugin{}}
	for _, p := range plugins {
		r.byName[p.Name()] = p
	}
	return r
}

// bound is one plugin instance paired with the config the request's
// resolved scope declared for it.
type bound struct {
	plugin Plugin
	config map[string]any
}

// Chain is the effective, priority-ordered plugin set for one request:
// global_rules ∪ service.plugins ∪ route.plugins, with route overriding
// service overriding global on name collision (spec §4.D).
type Chain struct {
	bound []bound
}

// Build assembles the chain for one request's resolved scope. Any of
// global, service, route may be nil when that resource wasn't resolved.
func (pr *Registry) Build(global *registry.GlobalRule, service *registry.Service, route *registry.Route) *Chain {
	merged := map[string]map[string]any{}
	if global != nil {
		mergeInto(merged, global.Plugins)
	}
	if service != nil {
		mergeInto(merged, service.Plugins)
	}
	if route != nil {
		mergeInto(merged, route.Plugins)
	}

	c := &Chain{}
	for name, cfg := range merged {
		p, ok := pr.byName[name]
		if !ok {
			continue // unknown plugin names are ignored, not fatal, at bind time
		}
		c.bound = append(c.bound, bound{plugin: p, config: cfg})
	}
	sort.SliceStable(c.bound, func(i, j int) bool {
		return c.bound[i].plugin.Priority() > c.bound[j].plugin.Priority()
	})
	return c
}

func mergeInto(dst map[string]map[string]any, src map[string]map[string]any) {
	for name, cfg := range src {
		dst[name] = cfg
	}
}

// RunRequestFilter runs every bound plugin's request_filter in priority
// order, stopping at the first Stop verdict. On Stop, remaining
// request_filter hooks and the upstream call are skipped, but Logging
// still runs for every bound plugin (spec §4.D "Short-circuiting").
func (c *Chain) RunRequestFilter(ctx context.Context, req *http.Request) (Verdict, error) {
	for _, b := range c.bound {
		v, err := b.plugin.RequestFilter(ctx, req, b.config)
		if err != nil {
			return Verdict{}, err
		}
		if v.Stopped {
			return v, nil
		}
	}
	return Continue(), nil
}

func (c *Chain) RunUpstreamRequestFilter(ctx context.Context, req *http.Request) error {
	for _, b := range c.bound {
		if err := b.plugin.UpstreamRequestFilter(ctx, req, b.config); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) RunResponseFilter(ctx context.Context, resp *http.Response) error {
	for _, b := range c.bound {
		if err := b.plugin.ResponseFilter(ctx, resp, b.config); err != nil {
			return err
		}
	}
	return nil
}

// RunLogging always runs every bound plugin's logging hook, win or stop.
func (c *Chain) RunLogging(ctx context.Context) {
	for _, b := range c.bound {
		b.plugin.Logging(ctx, b.config)
	}
}
