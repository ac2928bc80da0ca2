package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/go-playground/validator/v10"
)

// Listener is notified after a snapshot publication, once per affected
// resource type, so derived indexes (router, tool index, TLS matcher,
// plugin loader) can rebuild themselves (spec §4.A "Publication").
type Listener interface {
	OnPublish(ctx context.Context, snap *Snapshot, affected []ResourceType)
}

// Registry is the live configuration plane (component A). The zero value
// is not usable; construct with New.
type Registry struct {
	ptr       atomic.Pointer[Snapshot]
	mu        sync.Mutex // serializes mutations; reads never block on it
	validate  *validator.Validate
	listeners []Listener
}

func New() *Registry {
	r := &Registry{validate: validator.New()}
	r.ptr.Store(emptySnapshot())
	return r
}

// Snapshot returns the current live snapshot. Safe for concurrent use
// without locking; callers should hold the returned pointer for the
// duration of one request (spec §5 "Snapshot reads").
func (r *Registry) Snapshot() *Snapshot {
	return r.ptr.Load()
}

// AddListener registers a derived-index listener. Not safe to call after Serve starts.
func (r *Registry) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Op is one mutation within a batch (spec §4.A "batch").
type Op struct {
	Kind         OpKind
	ResourceType ResourceType
	ID           string
	Value        any // *Upstream, *Service, *Route, *GlobalRule, *SSL, or *McpService
}

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Get fetches a single resource from the live snapshot.
func (r *Registry) Get(resourceType ResourceType, id string) (any, error) {
	snap := r.Snapshot()
	v, ok := snap.byType(resourceType)[id]
	if !ok {
		return nil, gwerrors.NotFound(string(resourceType), id)
	}
	return v, nil
}

// List returns every resource of resourceType from the live snapshot.
func (r *Registry) List(resourceType ResourceType) []any {
	snap := r.Snapshot()
	m := snap.byType(resourceType)
	out := make([]any, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Create inserts a new resource, failing with AlreadyExists if id is taken.
func (r *Registry) Create(ctx context.Context, resourceType ResourceType, id string, value any) error {
	return r.apply(ctx, []Op{{Kind: OpCreate, ResourceType: resourceType, ID: id, Value: value}}, false)
}

// Update replaces an existing resource wholesale, creating it if absent
// (spec §3 "create-or-replace" semantics for PUT).
func (r *Registry) Update(ctx context.Context, resourceType ResourceType, id string, value any) error {
	return r.apply(ctx, []Op{{Kind: OpUpdate, ResourceType: resourceType, ID: id, Value: value}}, false)
}

// Delete removes a resource, refusing with InUse if anything still references it.
func (r *Registry) Delete(ctx context.Context, resourceType ResourceType, id string) error {
	return r.apply(ctx, []Op{{Kind: OpDelete, ResourceType: resourceType, ID: id}}, false)
}

// Batch applies every op atomically: all-or-nothing, reordered so creates
// flow leaves-upward and deletes roots-downward (spec §4.A).
func (r *Registry) Batch(ctx context.Context, ops []Op, dryRun bool) error {
	return r.apply(ctx, ops, dryRun)
}

// Validate runs format + reference validation against the live snapshot
// without publishing (admin "validate-only" endpoint, spec §4.H).
func (r *Registry) Validate(resourceType ResourceType, id string, value any) error {
	base := r.Snapshot()
	return r.validateOp(base, Op{Kind: OpUpdate, ResourceType: resourceType, ID: id, Value: value})
}

// apply is the single mutation path: clone, order, validate, commit, publish.
func (r *Registry) apply(ctx context.Context, ops []Op, dryRun bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := r.Snapshot()
	ordered, err := orderOps(ops)
	if err != nil {
		return err
	}

	candidate := base.clone()
	for _, op := range ordered {
		if err := r.validateOp(candidate, op); err != nil {
			return err
		}
		commitOp(candidate, op)
	}
	// Whole-batch delete-safety re-check against the final candidate state,
	// since an earlier delete in the batch could be "saved" by a later
	// delete of its only referrer, and vice versa.
	if err := checkAllReferences(candidate); err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	candidate.Version = base.Version + 1
	r.ptr.Store(candidate)

	affected := affectedTypes(ordered)
	for _, l := range r.listeners {
		l.OnPublish(ctx, candidate, affected)
	}
	obslog.FromContext(ctx).Info("registry published", "version", candidate.Version, "ops", len(ordered))
	return nil
}

func affectedTypes(ops []Op) []ResourceType {
	seen := map[ResourceType]bool{}
	var out []ResourceType
	for _, op := range ops {
		if !seen[op.ResourceType] {
			seen[op.ResourceType] = true
			out = append(out, op.ResourceType)
		}
	}
	return out
}

// Stats implements spec §4.A "stats()": per-type {count, last_updated}.
type StatsResult struct {
	Counts      map[ResourceType]Stat
	LastUpdated TimestampJS
}

func (r *Registry) Stats() map[ResourceType]Stat {
	snap := r.Snapshot()
	now := NowJS()
	out := make(map[ResourceType]Stat, len(StatsOrder))
	for _, t := range StatsOrder {
		out[t] = Stat{Count: len(snap.byType(t)), LastUpdated: now}
	}
	return out
}

// LoadSnapshot atomically replaces the live snapshot wholesale (used by the
// file watcher and the CLI shorthand bootstrap) after running it through the
// same validation pipeline as an admin batch.
func (r *Registry) LoadSnapshot(ctx context.Context, next *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := checkAllReferences(next); err != nil {
		return err
	}
	if err := r.validateFormatAll(next); err != nil {
		return err
	}
	base := r.Snapshot()
	next.Version = base.Version + 1
	r.ptr.Store(next)
	for _, l := range r.listeners {
		l.OnPublish(ctx, next, StatsOrder)
	}
	return nil
}

func (r *Registry) validateFormatAll(snap *Snapshot) error {
	for id, v := range snap.Upstreams {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeUpstream, id, err)
		}
		if err := validateUpstreamInvariants(v); err != nil {
			return err
		}
	}
	for id, v := range snap.Services {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeService, id, err)
		}
	}
	for id, v := range snap.Routes {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeRoute, id, err)
		}
		if err := validateRouteInvariants(v); err != nil {
			return err
		}
	}
	for id, v := range snap.GlobalRules {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeGlobalRule, id, err)
		}
	}
	for id, v := range snap.SSLs {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeSSL, id, err)
		}
	}
	for id, v := range snap.McpServices {
		if err := r.validate.Struct(v); err != nil {
			return formatErr(TypeMcpService, id, err)
		}
		if err := validateMcpServiceInvariants(v); err != nil {
			return err
		}
	}
	return nil
}

func formatErr(t ResourceType, id string, cause error) error {
	return &gwerrors.Error{
		Kind:    gwerrors.KindValidationFailed,
		Message: fmt.Sprintf("%s %q failed format validation", t, id),
		Field:   string(t),
		Detail:  cause.Error(),
		Cause:   cause,
	}
}
