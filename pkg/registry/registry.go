package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultNamespace is the implicit namespace of a single-tenant server
const DefaultNamespace = "default"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// NamespaceStore is the storage engine capability that physically provisions
// and removes namespaces. Both calls may block on I/O.
type NamespaceStore interface {
	Provision(ctx context.Context, ns *types.Namespace) error
	Teardown(ctx context.Context, ns *types.Namespace) error
}

// Config holds the collaborators of a Registry
type Config struct {
	Store             storage.Store
	Engine            NamespaceStore
	Events            *events.Broker // optional
	DisableNamespaces bool
}

// ListOptions controls which lifecycle states List returns
type ListOptions struct {
	IncludePending bool
}

// Registry is the single authoritative owner of namespace identity
type Registry struct {
	meta     storage.Store
	engine   NamespaceStore
	events   *events.Broker
	disabled bool
	locks    *nameLocks
	logger   zerolog.Logger

	// mu guards the members index and cross-name checks. Metadata writes
	// happen outside it, under the per-name lock.
	mu       sync.RWMutex
	members  map[string]map[string]struct{} // root -> member names
	retiring map[string]struct{}            // roots whose deleting record is being written

	lifeMu   sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a registry over an opened metadata store
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("namespace store is required")
	}

	r := &Registry{
		meta:     cfg.Store,
		engine:   cfg.Engine,
		events:   cfg.Events,
		disabled: cfg.DisableNamespaces,
		locks:    newNameLocks(),
		logger:   log.WithComponent("registry"),
		members:  make(map[string]map[string]struct{}),
		retiring: make(map[string]struct{}),
	}

	if err := r.rebuildMembers(); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateName checks that name is usable as a namespace identifier
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: namespace name is empty", ErrMalformedRequest)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid namespace name %q", ErrMalformedRequest, name)
	}
	return nil
}

// Create provisions a new namespace. Calls for the same name are linearized;
// a failed provision leaves no trace of the name.
func (r *Registry) Create(ctx context.Context, name string, params types.CreateParams) (*types.Namespace, error) {
	if r.disabled {
		return nil, fmt.Errorf("%w: cannot create %q", ErrNamespacesDisabled, name)
	}
	return r.create(ctx, name, params)
}

func (r *Registry) create(ctx context.Context, name string, params types.CreateParams) (ns *types.Namespace, err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.NamespaceOperationDuration, "create")
		metrics.NamespaceOperationsTotal.WithLabelValues("create", resultLabel(err)).Inc()
	}()

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if params.SharedSchema && params.SharedSchemaName != "" {
		return nil, fmt.Errorf("%w: a shared schema root cannot reference another root", ErrMalformedRequest)
	}

	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	unlock, err := r.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pending, err := r.reserve(name, params)
	if err != nil {
		return nil, err
	}

	nsLog := r.logger.With().Str("namespace", name).Str("schema_kind", string(pending.SchemaKind)).Logger()

	if err := r.engine.Provision(ctx, pending.Clone()); err != nil {
		r.purge(pending)
		nsLog.Error().Err(err).Msg("Namespace provisioning failed, entry purged")
		r.publish(events.EventNamespaceCreateFailed, name, err.Error())
		return nil, fmt.Errorf("%w: provisioning %q failed", ErrStorageFailure, name)
	}

	pending.State = types.NamespaceStateActive
	pending.UpdatedAt = time.Now().UTC()
	if err := r.put(pending); err != nil {
		// Provisioned but not recorded: undo so the name is not half-created
		if terr := r.engine.Teardown(context.WithoutCancel(ctx), pending.Clone()); terr != nil {
			nsLog.Error().Err(terr).Msg("Teardown after failed activation also failed")
		}
		r.purge(pending)
		nsLog.Error().Err(err).Msg("Failed to record namespace activation")
		r.publish(events.EventNamespaceCreateFailed, name, err.Error())
		return nil, fmt.Errorf("%w: recording %q failed", ErrStorageFailure, name)
	}

	nsLog.Info().Str("id", pending.ID).Msg("Namespace created")
	r.publish(events.EventNamespaceCreated, name, "")
	return pending.Clone(), nil
}

// reserve validates the request against current metadata and records the
// namespace in the creating state. A member joins its root's index before the
// record is written, so the root cannot be deleted underneath it.
func (r *Registry) reserve(name string, params types.CreateParams) (*types.Namespace, error) {
	ns, err := r.validateReservation(name, params)
	if err != nil {
		return nil, err
	}

	if err := r.meta.Put(ns); err != nil {
		r.unlinkMember(ns)
		return nil, fmt.Errorf("%w: recording %q: %v", ErrStorageFailure, name, err)
	}
	return ns, nil
}

func (r *Registry) validateReservation(name string, params types.CreateParams) (*types.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.meta.Get(name)
	switch {
	case err == nil && existing.State.Live():
		return nil, fmt.Errorf("%w: %q is %s", ErrAlreadyExists, name, existing.State)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorageFailure, name, err)
	}

	kind := types.SchemaKindStandalone
	if params.SharedSchema {
		kind = types.SchemaKindSharedSchemaRoot
	}
	if params.SharedSchemaName != "" {
		if _, err := r.resolveRootLocked(params.SharedSchemaName); err != nil {
			return nil, err
		}
		kind = types.SchemaKindSharedSchemaMember
	}

	now := time.Now().UTC()
	ns := &types.Namespace{
		ID:               uuid.New().String(),
		Name:             name,
		SchemaKind:       kind,
		SharedSchemaName: params.SharedSchemaName,
		CreationParams:   params.Raw,
		State:            types.NamespaceStateCreating,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if kind == types.SchemaKindSharedSchemaMember {
		r.addMemberLocked(ns.SharedSchemaName, name)
	}
	return ns, nil
}

// Delete tears a namespace down. If the storage engine fails, the namespace
// stays in the deleting state and a later Delete resumes the teardown.
func (r *Registry) Delete(ctx context.Context, name string) (ns *types.Namespace, err error) {
	if r.disabled {
		return nil, fmt.Errorf("%w: cannot delete %q", ErrNamespacesDisabled, name)
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.NamespaceOperationDuration, "delete")
		metrics.NamespaceOperationsTotal.WithLabelValues("delete", resultLabel(err)).Inc()
	}()

	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	unlock, err := r.locks.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	target, err := r.markDeleting(name)
	if err != nil {
		return nil, err
	}

	nsLog := r.logger.With().Str("namespace", name).Logger()
	r.publish(events.EventNamespaceDeleting, name, "")

	if err := r.engine.Teardown(ctx, target.Clone()); err != nil {
		nsLog.Error().Err(err).Msg("Namespace teardown failed, left in deleting state")
		r.publish(events.EventNamespaceDeleteFailed, name, err.Error())
		return nil, fmt.Errorf("%w: teardown of %q failed, retry to resume", ErrStorageFailure, name)
	}

	if err := r.remove(target); err != nil {
		nsLog.Error().Err(err).Msg("Failed to remove namespace record")
		return nil, fmt.Errorf("%w: removing %q failed, retry to resume", ErrStorageFailure, name)
	}

	target.State = types.NamespaceStateDeleted
	target.UpdatedAt = time.Now().UTC()

	nsLog.Info().Msg("Namespace deleted")
	r.publish(events.EventNamespaceDeleted, name, "")
	return target.Clone(), nil
}

// markDeleting records name as deleting. While the record is written the
// name is held in retiring so no new member can attach to it.
func (r *Registry) markDeleting(name string) (*types.Namespace, error) {
	ns, err := r.checkDeletable(name)
	if err != nil || ns.State != types.NamespaceStateActive {
		return ns, err
	}

	defer func() {
		r.mu.Lock()
		delete(r.retiring, name)
		r.mu.Unlock()
	}()

	ns.State = types.NamespaceStateDeleting
	ns.UpdatedAt = time.Now().UTC()
	if err := r.meta.Put(ns); err != nil {
		return nil, fmt.Errorf("%w: recording %q: %v", ErrStorageFailure, name, err)
	}
	return ns, nil
}

func (r *Registry) checkDeletable(name string) (*types.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, err := r.meta.Get(name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorageFailure, name, err)
	}

	switch ns.State {
	case types.NamespaceStateActive, types.NamespaceStateDeleting:
	default:
		// creating residue is invisible until Recover purges it
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if ns.IsRoot() {
		if members := r.membersLocked(name); len(members) > 0 {
			return nil, fmt.Errorf("%w: %q is shared by %v", ErrHasSchemaMembers, name, members)
		}
	}

	if ns.State == types.NamespaceStateActive {
		r.retiring[name] = struct{}{}
	}
	return ns, nil
}

// Get returns one namespace in any live state
func (r *Registry) Get(name string) (*types.Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, err := r.meta.Get(name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorageFailure, name, err)
	}
	return ns, nil
}

// List returns a point-in-time snapshot sorted by name. Only active
// namespaces are included unless opts.IncludePending is set.
func (r *Registry) List(opts ListOptions) ([]*types.Namespace, error) {
	r.mu.RLock()
	all, err := r.meta.List()
	r.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: listing namespaces: %v", ErrStorageFailure, err)
	}

	out := make([]*types.Namespace, 0, len(all))
	for _, ns := range all {
		if ns.State == types.NamespaceStateActive || (opts.IncludePending && ns.State.Live()) {
			out = append(out, ns)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListAll returns every namespace that still reserves its name
func (r *Registry) ListAll() ([]*types.Namespace, error) {
	return r.List(ListOptions{IncludePending: true})
}

// ResolveSchemaRoot returns name if it is an active shared schema root
func (r *Registry) ResolveSchemaRoot(name string) (*types.Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveRootLocked(name)
}

func (r *Registry) resolveRootLocked(name string) (*types.Namespace, error) {
	if _, ok := r.retiring[name]; ok {
		return nil, fmt.Errorf("%w: %q is %s", ErrUnknownSchemaRoot, name, types.NamespaceStateDeleting)
	}
	ns, err := r.meta.Get(name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q does not exist", ErrUnknownSchemaRoot, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorageFailure, name, err)
	}
	if ns.State != types.NamespaceStateActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrUnknownSchemaRoot, name, ns.State)
	}
	if !ns.IsRoot() {
		return nil, fmt.Errorf("%w: %q is not a shared schema root", ErrUnknownSchemaRoot, name)
	}
	return ns, nil
}

// Members returns the names of namespaces sharing root's schema
func (r *Registry) Members(root string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(root)
}

func (r *Registry) membersLocked(root string) []string {
	set := r.members[root]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) addMemberLocked(root, member string) {
	set, ok := r.members[root]
	if !ok {
		set = make(map[string]struct{})
		r.members[root] = set
	}
	set[member] = struct{}{}
}

func (r *Registry) removeMemberLocked(root, member string) {
	set, ok := r.members[root]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(r.members, root)
	}
}

func (r *Registry) rebuildMembers() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.meta.List()
	if err != nil {
		return fmt.Errorf("%w: listing namespaces: %v", ErrStorageFailure, err)
	}

	r.members = make(map[string]map[string]struct{})
	for _, ns := range all {
		if ns.SchemaKind == types.SchemaKindSharedSchemaMember && ns.State.Live() {
			r.addMemberLocked(ns.SharedSchemaName, ns.Name)
		}
	}
	return nil
}

// Recover purges namespaces a crash left in the creating state. Deleting
// namespaces are kept so a later Delete can finish them.
func (r *Registry) Recover(ctx context.Context) error {
	done, err := r.begin()
	if err != nil {
		return err
	}
	defer done()

	all, err := r.List(ListOptions{IncludePending: true})
	if err != nil {
		return err
	}

	for _, ns := range all {
		if ns.State != types.NamespaceStateCreating {
			continue
		}

		unlock, err := r.locks.lock(ctx, ns.Name)
		if err != nil {
			return err
		}
		if terr := r.engine.Teardown(ctx, ns.Clone()); terr != nil {
			r.logger.Warn().Err(terr).Str("namespace", ns.Name).Msg("Teardown of interrupted create failed")
		}
		r.purge(ns)
		unlock()

		r.logger.Warn().Str("namespace", ns.Name).Msg("Purged namespace left in creating state")
	}

	return r.rebuildMembers()
}

// EnsureDefault creates the default namespace if it does not exist yet
func (r *Registry) EnsureDefault(ctx context.Context) error {
	_, err := r.create(ctx, DefaultNamespace, types.CreateParams{Raw: []byte(`{}`)})
	if err == nil || errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// NamespacesDisabled reports whether admin create/delete are rejected
func (r *Registry) NamespacesDisabled() bool {
	return r.disabled
}

// Close waits for in-flight mutations and rejects new ones
func (r *Registry) Close() {
	r.lifeMu.Lock()
	r.closed = true
	r.lifeMu.Unlock()

	r.inflight.Wait()
}

func (r *Registry) begin() (func(), error) {
	r.lifeMu.RLock()
	defer r.lifeMu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	r.inflight.Add(1)
	return r.inflight.Done, nil
}

// Metadata writes below run under the caller's per-name lock only; with the
// raft backend they can block for a full apply round.

func (r *Registry) put(ns *types.Namespace) error {
	return r.meta.Put(ns)
}

// purge drops a namespace that never became active
func (r *Registry) purge(ns *types.Namespace) {
	if err := r.meta.Delete(ns.Name); err != nil {
		r.logger.Error().Err(err).Str("namespace", ns.Name).Msg("Failed to purge namespace record")
	}
	r.unlinkMember(ns)
}

func (r *Registry) remove(ns *types.Namespace) error {
	if err := r.meta.Delete(ns.Name); err != nil {
		return err
	}
	r.unlinkMember(ns)
	return nil
}

// unlinkMember drops ns from its root's member index
func (r *Registry) unlinkMember(ns *types.Namespace) {
	if ns.SchemaKind != types.SchemaKindSharedSchemaMember {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(ns.SharedSchemaName, ns.Name)
}

func (r *Registry) publish(t events.EventType, name, msg string) {
	if r.events == nil {
		return
	}
	r.events.Publish(&events.Event{Type: t, Namespace: name, Message: msg})
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err)
}
