// Package registry implements the gateway's live configuration plane: a
// versioned, dependency-checked, copy-on-write registry of Upstreams,
// Services, Routes, GlobalRules, SSLs and McpServices (spec §3, §4.A).
package registry

import (
	"encoding/json"
	"time"
)

// ResourceType enumerates the six resource kinds the registry manages.
// Their declared order is the admin stats key order required by spec §4.H.
type ResourceType string

const (
	TypeMcpService  ResourceType = "mcp_services"
	TypeSSL         ResourceType = "ssls"
	TypeGlobalRule  ResourceType = "global_rules"
	TypeRoute       ResourceType = "routes"
	TypeUpstream    ResourceType = "upstreams"
	TypeService     ResourceType = "services"
)

// StatsOrder is the fixed key order admin stats responses must preserve.
var StatsOrder = []ResourceType{
	TypeMcpService, TypeSSL, TypeGlobalRule, TypeRoute, TypeUpstream, TypeService,
}

// BalancerType selects the load-balancing algorithm for an Upstream.
type BalancerType string

const (
	BalancerRoundRobin      BalancerType = "RoundRobin"
	BalancerRandom          BalancerType = "Random"
	BalancerIPHash          BalancerType = "IpHash"
	BalancerConsistentHash  BalancerType = "ConsistentHash"
)

// PassHostMode controls how the gateway rewrites the Host header.
type PassHostMode string

const (
	PassHostPass    PassHostMode = "pass"
	PassHostRewrite PassHostMode = "rewrite"
	PassHostNode    PassHostMode = "node"
)

// Scheme selects the transport scheme used to reach upstream nodes.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Timeout holds the three per-step timeouts of spec §3 (seconds).
type Timeout struct {
	Connect float64 `json:"connect" yaml:"connect" validate:"gte=0"`
	Read    float64 `json:"read"    yaml:"read"    validate:"gte=0"`
	Send    float64 `json:"send"    yaml:"send"    validate:"gte=0"`
}

func DefaultTimeout() Timeout {
	return Timeout{Connect: 5, Read: 30, Send: 30}
}

// ActiveHealthCheck probes nodes directly.
type ActiveHealthCheck struct {
	Path               string  `json:"path"                yaml:"path"                validate:"required"`
	IntervalSeconds    float64 `json:"interval"            yaml:"interval"            validate:"gt=0"`
	HealthyThreshold   int     `json:"healthy_threshold"   yaml:"healthy_threshold"   validate:"gte=1"`
	UnhealthyThreshold int     `json:"unhealthy_threshold" yaml:"unhealthy_threshold" validate:"gte=1"`
}

// PassiveHealthCheck infers health from live traffic.
type PassiveHealthCheck struct {
	TimeoutThresholdSeconds float64 `json:"timeout_threshold" yaml:"timeout_threshold" validate:"gt=0"`
	ErrorThreshold          int     `json:"error_threshold"   yaml:"error_threshold"   validate:"gte=1"`
}

// HealthCheck bundles the optional active and passive probes of an Upstream.
type HealthCheck struct {
	Active  *ActiveHealthCheck  `json:"active,omitempty"  yaml:"active,omitempty"`
	Passive *PassiveHealthCheck `json:"passive,omitempty" yaml:"passive,omitempty"`
}

// Upstream is a load-balanced pool of backend HTTP origins (spec §3).
type Upstream struct {
	ID           string            `json:"id"                     yaml:"id"                     validate:"required"`
	Nodes        map[string]uint   `json:"nodes"                  yaml:"nodes"                  validate:"required,min=1,dive,gt=0"`
	Type         BalancerType      `json:"type"                   yaml:"type"                   validate:"required,oneof=RoundRobin Random IpHash ConsistentHash"`
	Scheme       Scheme            `json:"scheme"                 yaml:"scheme"                 validate:"required,oneof=http https"`
	PassHost     PassHostMode      `json:"pass_host"              yaml:"pass_host"              validate:"required,oneof=pass rewrite node"`
	UpstreamHost string            `json:"upstream_host,omitempty" yaml:"upstream_host,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"      yaml:"headers,omitempty"`
	Timeout      Timeout           `json:"timeout"                yaml:"timeout"`
	HealthCheck  *HealthCheck      `json:"health_check,omitempty" yaml:"health_check,omitempty"`
	Retries      uint              `json:"retries,omitempty"      yaml:"retries,omitempty"`
	HashKey      string            `json:"hash_key,omitempty"     yaml:"hash_key,omitempty"`
}

func (u *Upstream) Clone() *Upstream {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Nodes = cloneUintMap(u.Nodes)
	clone.Headers = cloneStringMap(u.Headers)
	if u.HealthCheck != nil {
		hc := *u.HealthCheck
		if u.HealthCheck.Active != nil {
			a := *u.HealthCheck.Active
			hc.Active = &a
		}
		if u.HealthCheck.Passive != nil {
			p := *u.HealthCheck.Passive
			hc.Passive = &p
		}
		clone.HealthCheck = &hc
	}
	return &clone
}

// Service groups routing and plugin configuration in front of one Upstream.
type Service struct {
	ID         string                    `json:"id"          yaml:"id"          validate:"required"`
	UpstreamID string                    `json:"upstream_id" yaml:"upstream_id" validate:"required"`
	Hosts      []string                  `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	Plugins    map[string]map[string]any `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Hosts = append([]string(nil), s.Hosts...)
	clone.Plugins = clonePluginMap(s.Plugins)
	return &clone
}

// Route binds a (host, method, path-pattern) tuple to a Service or Upstream.
type Route struct {
	ID          string                    `json:"id"                     yaml:"id"                     validate:"required"`
	URI         string                    `json:"uri,omitempty"          yaml:"uri,omitempty"`
	URIs        []string                  `json:"uris,omitempty"         yaml:"uris,omitempty"`
	Methods     []string                  `json:"methods,omitempty"      yaml:"methods,omitempty"`
	Hosts       []string                  `json:"hosts,omitempty"        yaml:"hosts,omitempty"`
	Priority    int                       `json:"priority"               yaml:"priority"`
	ServiceID   string                    `json:"service_id,omitempty"   yaml:"service_id,omitempty"`
	UpstreamID  string                    `json:"upstream_id,omitempty"  yaml:"upstream_id,omitempty"`
	Plugins     map[string]map[string]any `json:"plugins,omitempty"      yaml:"plugins,omitempty"`
	OperationID string                    `json:"operation_id,omitempty" yaml:"operation_id,omitempty"`
}

// Patterns returns the set of URI patterns this route matches.
func (r *Route) Patterns() []string {
	if len(r.URIs) > 0 {
		return r.URIs
	}
	if r.URI != "" {
		return []string{r.URI}
	}
	return nil
}

func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	clone := *r
	clone.URIs = append([]string(nil), r.URIs...)
	clone.Methods = append([]string(nil), r.Methods...)
	clone.Hosts = append([]string(nil), r.Hosts...)
	clone.Plugins = clonePluginMap(r.Plugins)
	return &clone
}

// GlobalRule's plugins apply to every request ahead of route-resolved ones.
type GlobalRule struct {
	ID      string                    `json:"id"      yaml:"id"      validate:"required"`
	Plugins map[string]map[string]any `json:"plugins" yaml:"plugins"`
}

func (g *GlobalRule) Clone() *GlobalRule {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Plugins = clonePluginMap(g.Plugins)
	return &clone
}

// SSL is matched by SNI at TLS accept time.
type SSL struct {
	ID    string   `json:"id"    yaml:"id"    validate:"required"`
	Cert  string   `json:"cert"  yaml:"cert"  validate:"required"`
	Key   string   `json:"key"   yaml:"key"   validate:"required"`
	SNIs  []string `json:"snis"  yaml:"snis"  validate:"required,min=1"`
}

func (s *SSL) Clone() *SSL {
	if s == nil {
		return nil
	}
	clone := *s
	clone.SNIs = append([]string(nil), s.SNIs...)
	return &clone
}

// McpRouteMeta documents an explicitly declared MCP route's tool shape.
type McpRouteMeta struct {
	Name        string         `json:"name"        yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"inputSchema" yaml:"inputSchema"`
}

// McpExplicitRoute is one entry of McpService.Routes.
type McpExplicitRoute struct {
	Meta    McpRouteMeta `json:"meta"    yaml:"meta"`
	Method  string       `json:"method"  yaml:"method"`
	URI     string       `json:"uri"     yaml:"uri"`
}

// McpService binds an OpenAPI document (or explicit routes) to an Upstream,
// producing a set of MCP tool descriptors and internal Routes at load time.
type McpService struct {
	ID         string              `json:"id"          yaml:"id"          validate:"required"`
	UpstreamID string              `json:"upstream_id,omitempty" yaml:"upstream_id,omitempty"`
	Path       string              `json:"path,omitempty"        yaml:"path,omitempty"`
	Routes     []McpExplicitRoute  `json:"routes,omitempty"      yaml:"routes,omitempty"`
}

func (m *McpService) Clone() *McpService {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Routes = append([]McpExplicitRoute(nil), m.Routes...)
	return &clone
}

// Stat is the per-type stats shape of spec §4.A, with the wall-clock
// instant serialised as {secs_since_epoch, nanos_since_epoch} — this
// exact shape is part of the admin contract.
type Stat struct {
	Count       int         `json:"count"`
	LastUpdated TimestampJS `json:"last_updated"`
}

// TimestampJS is a wall-clock instant rendered the way the admin API requires.
type TimestampJS struct {
	SecsSinceEpoch  int64 `json:"secs_since_epoch"`
	NanosSinceEpoch int32 `json:"nanos_since_epoch"`
}

func NowJS() TimestampJS {
	now := time.Now()
	return TimestampJS{SecsSinceEpoch: now.Unix(), NanosSinceEpoch: int32(now.Nanosecond())}
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUintMap(m map[string]uint) map[string]uint {
	if m == nil {
		return nil
	}
	out := make(map[string]uint, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePluginMap(m map[string]map[string]any) map[string]map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(m))
	for name, cfg := range m {
		raw, _ := json.Marshal(cfg)
		var dup map[string]any
		_ = json.Unmarshal(raw, &dup)
		out[name] = dup
	}
	return out
}
