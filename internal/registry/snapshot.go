package registry

// Snapshot is the immutable, versioned bundle of the full resource graph
// (spec §3 "Registry snapshot"). Readers obtain a Snapshot once per request
// and never see a torn view even if a write swaps the live pointer mid-request.
type Snapshot struct {
	Version      uint64
	Upstreams    map[string]*Upstream
	Services     map[string]*Service
	Routes       map[string]*Route
	GlobalRules  map[string]*GlobalRule
	SSLs         map[string]*SSL
	McpServices  map[string]*McpService

	// ToolsIndex and RouteIndex are carried across clones, but nothing in
	// the gateway sets them: the tool index, route index and TLS matcher are
	// rebuilt by listeners that keep them in their own Managers, so they are
	// not published by the same swap as the resource maps.
	ToolsIndex ToolsIndex
	RouteIndex RouteIndexer
}

// ToolsIndex is implemented by internal/mcpengine; declared here as an
// interface so the registry package has no import-cycle onto mcpengine.
type ToolsIndex interface {
	// ToolCount reports how many tool descriptors the index currently holds;
	// the tool index Manager logs it after each rebuild.
	ToolCount() int
}

// RouteIndexer is implemented by internal/router for the same reason.
type RouteIndexer interface {
	RouteCount() int
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Upstreams:   map[string]*Upstream{},
		Services:    map[string]*Service{},
		Routes:      map[string]*Route{},
		GlobalRules: map[string]*GlobalRule{},
		SSLs:        map[string]*SSL{},
		McpServices: map[string]*McpService{},
	}
}

// Clone performs a deep copy-on-write duplication of the snapshot's resource
// maps, for callers (the admin reload path in internal/server) that need to
// merge derived resources into a fresh snapshot before publishing it.
func (s *Snapshot) Clone() *Snapshot {
	return s.clone()
}

// clone performs a deep copy-on-write duplication of the snapshot's resource
// maps (but not the derived indexes, which are rebuilt after mutation).
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Version:     s.Version,
		Upstreams:   make(map[string]*Upstream, len(s.Upstreams)),
		Services:    make(map[string]*Service, len(s.Services)),
		Routes:      make(map[string]*Route, len(s.Routes)),
		GlobalRules: make(map[string]*GlobalRule, len(s.GlobalRules)),
		SSLs:        make(map[string]*SSL, len(s.SSLs)),
		McpServices: make(map[string]*McpService, len(s.McpServices)),
		ToolsIndex:  s.ToolsIndex,
		RouteIndex:  s.RouteIndex,
	}
	for k, v := range s.Upstreams {
		out.Upstreams[k] = v.Clone()
	}
	for k, v := range s.Services {
		out.Services[k] = v.Clone()
	}
	for k, v := range s.Routes {
		out.Routes[k] = v.Clone()
	}
	for k, v := range s.GlobalRules {
		out.GlobalRules[k] = v.Clone()
	}
	for k, v := range s.SSLs {
		out.SSLs[k] = v.Clone()
	}
	for k, v := range s.McpServices {
		out.McpServices[k] = v.Clone()
	}
	return out
}

// byType returns the map for a given ResourceType, for generic dispatch.
func (s *Snapshot) byType(t ResourceType) map[string]any {
	out := map[string]any{}
	switch t {
	case TypeUpstream:
		for k, v := range s.Upstreams {
			out[k] = v
		}
	case TypeService:
		for k, v := range s.Services {
			out[k] = v
		}
	case TypeRoute:
		for k, v := range s.Routes {
			out[k] = v
		}
	case TypeGlobalRule:
		for k, v := range s.GlobalRules {
			out[k] = v
		}
	case TypeSSL:
		for k, v := range s.SSLs {
			out[k] = v
		}
	case TypeMcpService:
		for k, v := range s.McpServices {
			out[k] = v
		}
	}
	return out
}
