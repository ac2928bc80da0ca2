package mcpengine

import (
	"context"
	"fmt"

	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/openapi"
	"github.com/accesspoint/gateway/internal/registry"
)

// ToolIndex is the derived, read-only index of every compiled tool,
// keyed by its root-namespace name (spec §4.G "names are disambiguated by
// prefix <service_id>__ on collision"). It implements registry.ToolsIndex.
type ToolIndex struct {
	byRootName map[string]*CompiledTool
	byService  map[string][]*CompiledTool
}

func (idx *ToolIndex) ToolCount() int { return len(idx.byRootName) }

// ListRoot returns the union of every service's tools, under their
// (possibly disambiguated) root names.
func (idx *ToolIndex) ListRoot() []*CompiledTool {
	out := make([]*CompiledTool, 0, len(idx.byRootName))
	for _, t := range idx.byRootName {
		out = append(out, t)
	}
	return out
}

// ListForService returns only serviceID's tools, under their undecorated
// names (the /api/{svc}/mcp endpoints never need the disambiguation prefix).
func (idx *ToolIndex) ListForService(serviceID string) []*CompiledTool {
	return idx.byService[serviceID]
}

// Resolve looks a tool up by the name a client supplied to tools/call.
// scope is the serviceID for a per-service endpoint, or "" for root.
func (idx *ToolIndex) Resolve(scope, name string) (*CompiledTool, bool) {
	if scope != "" {
		for _, t := range idx.byService[scope] {
			if t.Name == name {
				return t, true
			}
		}
		return nil, false
	}
	t, ok := idx.byRootName[name]
	return t, ok
}

// BuildToolIndex compiles every McpService in snap into tool descriptors
// and internal Routes (spec §4.F, §4.G). Compilation does I/O (fetching
// the OpenAPI document) so callers should not hold the registry's mutation
// lock while calling this.
func BuildToolIndex(ctx context.Context, snap *registry.Snapshot) (*ToolIndex, []*registry.Route, error) {
	idx := &ToolIndex{byRootName: map[string]*CompiledTool{}, byService: map[string][]*CompiledTool{}}
	var allRoutes []*registry.Route

	for svcID, mcpSvc := range snap.McpServices {
		tools, routes, err := compileOneService(mcpSvc)
		if err != nil {
			obslog.FromContext(ctx).Warn("mcp service compile failed", "service", svcID, "err", err)
			continue
		}
		for _, t := range tools {
			ct := &CompiledTool{Tool: t, ServiceID: svcID}
			idx.byService[svcID] = append(idx.byService[svcID], ct)

			rootName := t.Name
			if existing, collision := idx.byRootName[rootName]; collision {
				// disambiguate both the new arrival and, retroactively, the
				// incumbent, so neither is left under the bare bare name.
				delete(idx.byRootName, rootName)
				idx.byRootName[existing.ServiceID+"__"+rootName] = existing
				rootName = svcID + "__" + rootName
			}
			idx.byRootName[rootName] = ct
		}
		allRoutes = append(allRoutes, routes...)
	}
	return idx, allRoutes, nil
}

func compileOneService(svc *registry.McpService) ([]openapi.Tool, []*registry.Route, error) {
	if svc.Path != "" {
		doc, err := loadOpenAPIDocument(svc.Path)
		if err != nil {
			return nil, nil, err
		}
		return openapi.Compile(doc, svc.ID, svc.UpstreamID)
	}
	return compileExplicitRoutes(svc)
}

// compileExplicitRoutes builds tool descriptors directly from an
// McpService's declared `routes` (the alternative to an OpenAPI `path`,
// spec §3 "Exactly one of path or routes must be present").
func compileExplicitRoutes(svc *registry.McpService) ([]openapi.Tool, []*registry.Route, error) {
	var tools []openapi.Tool
	var routes []*registry.Route

	for _, r := range svc.Routes {
		opID := r.Meta.Name
		if opID == "" {
			opID = fmt.Sprintf("%s_%s", r.Method, r.URI)
		}
		tools = append(tools, openapi.Tool{
			Name:        r.Meta.Name,
			Description: r.Meta.Description,
			InputSchema: r.Meta.InputSchema,
			Binding: openapi.Binding{
				McpServiceID: svc.ID,
				OperationID:  opID,
				Method:       r.Method,
				URITemplate:  r.URI,
			},
		})
		routes = append(routes, &registry.Route{
			ID:          fmt.Sprintf("mcp:%s:%s", svc.ID, opID),
			URI:         r.URI,
			Methods:     []string{r.Method},
			UpstreamID:  svc.UpstreamID,
			OperationID: opID,
		})
	}
	return tools, routes, nil
}

// Manager keeps the live ToolIndex current as McpServices change. It does
// not feed its derived Routes back into the registry from inside OnPublish (that would re-enter the registry's
// mutation lock); Route synchronisation for McpServices happens once, at
// the bootstrap/reload call sites that already hold a fresh Snapshot
// before publishing it (see internal/server).
type Manager struct {
	idx *ToolIndex
}

func NewManager(ctx context.Context, snap *registry.Snapshot) *Manager {
	idx, _, _ := BuildToolIndex(ctx, snap)
	return &Manager{idx: idx}
}

func (m *Manager) Current() *ToolIndex { return m.idx }

func (m *Manager) OnPublish(ctx context.Context, snap *registry.Snapshot, affected []registry.ResourceType) {
	for _, t := range affected {
		if t == registry.TypeMcpService {
			idx, _, _ := BuildToolIndex(ctx, snap)
			m.idx = idx
			obslog.FromContext(ctx).Info("mcp tool index rebuilt", "tools", idx.ToolCount())
			return
		}
	}
}
