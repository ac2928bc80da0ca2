// Package proxy implements component E, the Proxy Core: it binds the
// Registry, Upstream Pool, Router and Plugin Chain together, classifying
// each inbound request and either handing it to the admin plane, the MCP
// engine, or forwarding it as a plain proxied call (spec §4.E).
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/plugin"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/accesspoint/gateway/internal/router"
	"github.com/accesspoint/gateway/internal/upstream"
)

// Kind classifies an inbound request path (spec §4.E step 2).
type Kind int

const (
	KindPlainProxy Kind = iota
	KindAdmin
	KindMCP
)

// mcpPrefixes lists the MCP transport prefixes that route to the Protocol
// Engine instead of plain proxying (spec §4.E step 2).
var mcpPrefixes = []string{"/sse", "/mcp"}

// Classify determines which of the three request paths Core.ServeHTTP
// should take, honoring both the bare transport prefixes and the
// per-service `/api/{svc}/sse|mcp` forms.
func Classify(path string) Kind {
	if strings.HasPrefix(path, "/admin") {
		return KindAdmin
	}
	for _, p := range mcpPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return KindMCP
		}
	}
	if strings.HasPrefix(path, "/api/") {
		rest := strings.TrimPrefix(path, "/api/")
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			tail := rest[idx:]
			if strings.HasPrefix(tail, "/sse") || strings.HasPrefix(tail, "/mcp") {
				return KindMCP
			}
		}
	}
	return KindPlainProxy
}

// retryBodyCap is the default cap (spec §4.E "below a size cap... default
// 64 KiB") below which a request body is retained in memory for retry.
const retryBodyCap = 64 * 1024

// Core binds components A-D behind one forwarding entry point.
type Core struct {
	Registry *registry.Registry
	Router   *router.Manager
	Upstream *upstream.Manager
	Plugins  *plugin.Registry
}

func NewCore(reg *registry.Registry, rt *router.Manager, up *upstream.Manager, plugins *plugin.Registry) *Core {
	return &Core{Registry: reg, Router: rt, Upstream: up, Plugins: plugins}
}

// Forward runs one plain-proxy request through Router -> plugin chain ->
// Upstream Pool -> response, per spec §4.E step 3. Dispatch buffers the body
// of an idempotent request up to retryBodyCap (64 KiB) so it can be resent
// on retry; other bodies are sent once.
func (c *Core) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	snap := c.Registry.Snapshot()
	idx := c.Router.Current()

	m, err := idx.Match(req.Host, req.Method, req.URL.Path)
	if err != nil {
		return nil, err
	}
	route := m.Route

	var service *registry.Service
	var upstreamID string
	if route.ServiceID != "" {
		s, ok := snap.Services[route.ServiceID]
		if !ok {
			return nil, gwerrors.NotFound("services", route.ServiceID)
		}
		service = s
		upstreamID = s.UpstreamID
	} else {
		upstreamID = route.UpstreamID
	}

	var global *registry.GlobalRule
	for _, g := range snap.GlobalRules {
		global = g
		break // spec applies "the" GlobalRule ahead of route-resolved plugins; first one found suffices for a single global scope
	}
	chain := c.Plugins.Build(global, service, route)

	ctx = plugin.WithStartedAt(ctx)
	verdict, err := chain.RunRequestFilter(ctx, req)
	if err != nil {
		chain.RunLogging(ctx)
		return nil, err
	}
	if verdict.Stopped {
		chain.RunLogging(ctx)
		return stoppedResponse(verdict), nil
	}

	pool, err := c.Upstream.Get(upstreamID)
	if err != nil {
		chain.RunLogging(ctx)
		return nil, err
	}

	resp, err := c.dispatch(ctx, pool, req, chain)
	chain.RunLogging(ctx)
	return resp, err
}

func stoppedResponse(v plugin.Verdict) *http.Response {
	body := io.NopCloser(bytes.NewReader(v.Response.Body))
	return &http.Response{StatusCode: v.Response.StatusCode, Header: v.Response.Headers, Body: body}
}

// dispatch performs node selection, header injection and forwarding with
// retry on connection failure or idempotent 5xx only (spec §4.E).
func (c *Core) dispatch(ctx context.Context, pool *upstream.Pool, req *http.Request, chain *plugin.Chain) (*http.Response, error) {
	var bodyBytes []byte
	retryable := isIdempotent(req.Method)
	if req.Body != nil && retryable {
		b, err := io.ReadAll(io.LimitReader(req.Body, retryBodyCap+1))
		if err == nil && len(b) <= retryBodyCap {
			bodyBytes = b
		}
		req.Body = io.NopCloser(bytes.NewReader(b))
	}

	attempts := 1 + int(poolRetries(pool))
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		node, err := pool.Pick(clientKey(req))
		if err != nil {
			return nil, err
		}

		if err := chain.RunUpstreamRequestFilter(ctx, req); err != nil {
			return nil, err
		}
		applyHostHeader(req, node.Address)

		resp, err := doRequest(ctx, pool, node, req)
		if err != nil {
			pool.RecordPassive(node, true)
			lastErr = gwerrors.Wrap(gwerrors.KindUpstreamConnect, err, "upstream request failed")
			if !retryable || attempt == attempts-1 {
				return nil, lastErr
			}
			continue
		}
		isFailure := resp.StatusCode >= 500
		pool.RecordPassive(node, isFailure)
		if isFailure && retryable && attempt < attempts-1 {
			continue
		}
		if err := chain.RunResponseFilter(ctx, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, lastErr
}

func poolRetries(pool *upstream.Pool) uint {
	cfg := pool.Config()
	return cfg.Retries
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

func clientKey(req *http.Request) string {
	if ip := req.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return req.RemoteAddr
}

func applyHostHeader(req *http.Request, nodeAddr string) {
	req.Header.Set("X-Accesspoint-Node", nodeAddr)
}

func doRequest(ctx context.Context, pool *upstream.Pool, node *upstream.Node, req *http.Request) (*http.Response, error) {
	url := pool.BaseURL(node) + req.URL.Path
	if req.URL.RawQuery != "" {
		url += "?" + req.URL.RawQuery
	}
	r := pool.Client().R().SetContext(ctx).SetHeaderMultiValues(map[string][]string(req.Header))
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		r.SetBody(body)
	}
	for k, v := range pool.Config().Headers {
		r.SetHeader(k, v)
	}
	r.SetHeader("Host", hostFor(pool, node, req.Host))

	start := time.Now()
	resp, err := r.Execute(req.Method, url)
	if err != nil {
		return nil, err
	}
	obslog.FromContext(ctx).Debug("upstream call complete", "node", node.Address, "status", resp.StatusCode(), "elapsed", time.Since(start))

	return &http.Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       io.NopCloser(bytes.NewReader(resp.Body())),
	}, nil
}

// hostFor resolves the outbound Host header per the upstream's pass_host
// mode (spec §4.E): "rewrite" substitutes the configured upstream_host,
// "node" substitutes the selected backend node's address, and "pass"
// forwards the inbound request's original Host header unmodified.
func hostFor(pool *upstream.Pool, node *upstream.Node, originalHost string) string {
	cfg := pool.Config()
	switch cfg.PassHost {
	case registry.PassHostRewrite:
		return cfg.UpstreamHost
	case registry.PassHostNode:
		return node.Address
	default: // registry.PassHostPass
		return originalHost
	}
}
