package registry

import (
	"fmt"

	"github.com/accesspoint/gateway/internal/gwerrors"
)

// validateOp runs the three mutation phases of spec §4.A against candidate,
// which has already had op applied-for-preview purposes nowhere yet — op is
// validated against the state of candidate *before* commitOp runs it.
func (r *Registry) validateOp(candidate *Snapshot, op Op) error {
	switch op.Kind {
	case OpCreate:
		if _, exists := candidate.byType(op.ResourceType)[op.ID]; exists {
			return gwerrors.AlreadyExists(string(op.ResourceType), op.ID)
		}
		return r.validateUpsert(candidate, op)
	case OpUpdate:
		return r.validateUpsert(candidate, op)
	case OpDelete:
		if _, exists := candidate.byType(op.ResourceType)[op.ID]; !exists {
			return gwerrors.NotFound(string(op.ResourceType), op.ID)
		}
		return validateDeleteSafety(candidate, op.ResourceType, op.ID)
	default:
		return gwerrors.Newf(gwerrors.KindValidationFailed, "unknown op kind %q", op.Kind)
	}
}

func (r *Registry) validateUpsert(candidate *Snapshot, op Op) error {
	if err := r.validateFormat(op.ResourceType, op.Value); err != nil {
		return err
	}
	return validateReferences(candidate, op.ResourceType, op.Value)
}

func (r *Registry) validateFormat(resourceType ResourceType, value any) error {
	if value == nil {
		return gwerrors.ValidationFailed(string(resourceType), "value is required")
	}
	if err := r.validate.Struct(value); err != nil {
		return formatErr(resourceType, idOf(value), err)
	}
	switch v := value.(type) {
	case *Upstream:
		return validateUpstreamInvariants(v)
	case *Route:
		return validateRouteInvariants(v)
	case *McpService:
		return validateMcpServiceInvariants(v)
	}
	return nil
}

func idOf(value any) string {
	switch v := value.(type) {
	case *Upstream:
		return v.ID
	case *Service:
		return v.ID
	case *Route:
		return v.ID
	case *GlobalRule:
		return v.ID
	case *SSL:
		return v.ID
	case *McpService:
		return v.ID
	default:
		return ""
	}
}

func validateUpstreamInvariants(u *Upstream) error {
	if len(u.Nodes) == 0 {
		return gwerrors.ValidationFailed("nodes", "at least one node is required")
	}
	for addr, weight := range u.Nodes {
		if weight == 0 {
			return gwerrors.ValidationFailed("nodes", fmt.Sprintf("node %q must have a positive weight", addr))
		}
	}
	if u.PassHost == PassHostRewrite && u.UpstreamHost == "" {
		return gwerrors.ValidationFailed("upstream_host", "required when pass_host=rewrite")
	}
	if u.Type == BalancerConsistentHash && u.HashKey == "" {
		return gwerrors.ValidationFailed("hash_key", "required when type=ConsistentHash")
	}
	return nil
}

func validateRouteInvariants(rt *Route) error {
	patterns := rt.Patterns()
	if len(patterns) == 0 {
		return gwerrors.ValidationFailed("uri", "either uri or uris is required")
	}
	if rt.ServiceID == "" && rt.UpstreamID == "" {
		return gwerrors.ValidationFailed("service_id", "either service_id or upstream_id is required")
	}
	if rt.ServiceID != "" && rt.UpstreamID != "" {
		return gwerrors.ValidationFailed("upstream_id", "must not be set together with service_id")
	}
	return nil
}

func validateMcpServiceInvariants(m *McpService) error {
	hasPath := m.Path != ""
	hasRoutes := len(m.Routes) > 0
	if hasPath == hasRoutes {
		return gwerrors.ValidationFailed("path", "exactly one of path or routes must be present")
	}
	return nil
}

// validateReferences implements phase 2 of spec §4.A: every declared
// dependency must resolve inside candidate. It makes no separate cycle
// check: every reference points at an Upstream or a Service, and Upstreams
// reference nothing, so the schema as given admits only a DAG.
func validateReferences(candidate *Snapshot, resourceType ResourceType, value any) error {
	switch v := value.(type) {
	case *Service:
		if _, ok := candidate.Upstreams[v.UpstreamID]; !ok {
			return gwerrors.ValidationFailed("upstream_id", fmt.Sprintf("upstream %q does not exist", v.UpstreamID))
		}
	case *Route:
		if v.ServiceID != "" {
			if _, ok := candidate.Services[v.ServiceID]; !ok {
				return gwerrors.ValidationFailed("service_id", fmt.Sprintf("service %q does not exist", v.ServiceID))
			}
		}
		if v.UpstreamID != "" {
			if _, ok := candidate.Upstreams[v.UpstreamID]; !ok {
				return gwerrors.ValidationFailed("upstream_id", fmt.Sprintf("upstream %q does not exist", v.UpstreamID))
			}
		}
	case *McpService:
		if v.UpstreamID != "" {
			if _, ok := candidate.Upstreams[v.UpstreamID]; !ok {
				return gwerrors.ValidationFailed("upstream_id", fmt.Sprintf("upstream %q does not exist", v.UpstreamID))
			}
		}
	}
	_ = resourceType
	return nil
}

// validateDeleteSafety implements phase 3 of spec §4.A: refuse delete if
// any resource in candidate still references id.
func validateDeleteSafety(candidate *Snapshot, resourceType ResourceType, id string) error {
	refs := referrersOf(candidate, resourceType, id)
	if len(refs) > 0 {
		return gwerrors.InUse(string(resourceType), id, refs)
	}
	return nil
}

func referrersOf(candidate *Snapshot, resourceType ResourceType, id string) []string {
	var refs []string
	if resourceType == TypeUpstream {
		for _, s := range candidate.Services {
			if s.UpstreamID == id {
				refs = append(refs, "services/"+s.ID)
			}
		}
		for _, rt := range candidate.Routes {
			if rt.UpstreamID == id {
				refs = append(refs, "routes/"+rt.ID)
			}
		}
		for _, m := range candidate.McpServices {
			if m.UpstreamID == id {
				refs = append(refs, "mcp_services/"+m.ID)
			}
		}
	}
	if resourceType == TypeService {
		for _, rt := range candidate.Routes {
			if rt.ServiceID == id {
				refs = append(refs, "routes/"+rt.ID)
			}
		}
	}
	return refs
}

// checkAllReferences re-validates every remaining resource's references
// against the final candidate state, used at the end of a batch/LoadSnapshot
// since individual op ordering can't guarantee every intermediate state is
// self-consistent when deletes and creates interleave across types.
func checkAllReferences(candidate *Snapshot) error {
	for _, s := range candidate.Services {
		if err := validateReferences(candidate, TypeService, s); err != nil {
			return err
		}
	}
	for _, rt := range candidate.Routes {
		if err := validateReferences(candidate, TypeRoute, rt); err != nil {
			return err
		}
	}
	for _, m := range candidate.McpServices {
		if err := validateReferences(candidate, TypeMcpService, m); err != nil {
			return err
		}
	}
	return nil
}

// commitOp mutates candidate in place once validateOp has approved it.
func commitOp(candidate *Snapshot, op Op) {
	switch op.Kind {
	case OpCreate, OpUpdate:
		switch v := op.Value.(type) {
		case *Upstream:
			candidate.Upstreams[op.ID] = v
		case *Service:
			candidate.Services[op.ID] = v
		case *Route:
			candidate.Routes[op.ID] = v
		case *GlobalRule:
			candidate.GlobalRules[op.ID] = v
		case *SSL:
			candidate.SSLs[op.ID] = v
		case *McpService:
			candidate.McpServices[op.ID] = v
		}
	case OpDelete:
		switch op.ResourceType {
		case TypeUpstream:
			delete(candidate.Upstreams, op.ID)
		case TypeService:
			delete(candidate.Services, op.ID)
		case TypeRoute:
			delete(candidate.Routes, op.ID)
		case TypeGlobalRule:
			delete(candidate.GlobalRules, op.ID)
		case TypeSSL:
			delete(candidate.SSLs, op.ID)
		case TypeMcpService:
			delete(candidate.McpServices, op.ID)
		}
	}
}

// dependency rank: lower ranks are leaves, created first / deleted last.
var typeRank = map[ResourceType]int{
	TypeUpstream:   0,
	TypeGlobalRule: 0,
	TypeSSL:        0,
	TypeService:    1,
	TypeMcpService: 1,
	TypeRoute:      2,
}

// orderOps reorders a batch so creates/updates flow leaves-upward and
// deletes flow roots-downward (spec §4.A). Ops of the same kind and rank keep
// their original relative order, but every create/update runs before every
// delete, so a delete followed by a re-create of the same (type,id) in one
// batch runs create-first.
func orderOps(ops []Op) ([]Op, error) {
	creates := make([]Op, 0, len(ops))
	deletes := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.Kind == OpDelete {
			deletes = append(deletes, op)
		} else {
			creates = append(creates, op)
		}
	}
	stableSortByRank(creates, false)
	stableSortByRank(deletes, true)
	out := make([]Op, 0, len(ops))
	out = append(out, creates...)
	out = append(out, deletes...)
	return out, nil
}

func stableSortByRank(ops []Op, reverse bool) {
	// insertion sort: batches are small, and this keeps the op order stable
	// for equal ranks, which the dependency-safety property requires.
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && less(ops[j], ops[j-1], reverse) {
			ops[j], ops[j-1] = ops[j-1], ops[j]
			j--
		}
	}
}

func less(a, b Op, reverse bool) bool {
	ra, rb := typeRank[a.ResourceType], typeRank[b.ResourceType]
	if reverse {
		return ra > rb
	}
	return ra < rb
}
