package searchauthz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/searchauthz/logger"
)

// ============================================================================
// PRIVILEGES EVALUATOR
// ============================================================================

// ErrNotInitialized is returned while no configuration has been applied yet.
// Callers must deny requests in that state.
var ErrNotInitialized = errors.New("privileges evaluator is not initialized")

// authzSnapshot is one immutable configuration generation. The evaluator
// publishes snapshots atomically; in-flight evaluations keep the generation
// they started with.
type authzSnapshot struct {
	bundle      *ConfigBundle
	auth        *RoleBasedAuthorization
	interceptor *MultiTenancyInterceptor
}

// EvaluatorOptions configures a PrivilegesEvaluator.
type EvaluatorOptions struct {
	Logger logger.Logger

	// Metadata resolves cluster topology for wildcard expansion. Required.
	Metadata ClusterMetadataResolver

	// Introspector adapts the engine to the host's request types. Required
	// for index-scoped evaluation.
	Introspector RequestIntrospector

	// DoNotFailOnForbidden enables reducing partially authorized requests
	// to their permitted indices instead of rejecting them.
	DoNotFailOnForbidden bool

	// AuditStore receives privilege decisions asynchronously. Optional.
	AuditStore AuditStore

	// DecisionCacheSize bounds the decision cache cost. Zero selects a
	// default; negative disables caching.
	DecisionCacheSize int64
}

const defaultDecisionCacheSize = 1 << 20

// PrivilegesEvaluator is the engine entry point. It is safe for concurrent
// use; configuration updates swap a snapshot pointer and never block
// evaluations.
type PrivilegesEvaluator struct {
	snapshot atomic.Pointer[authzSnapshot]

	catalog      *ActionCatalog
	meta         ClusterMetadataResolver
	introspector RequestIntrospector
	dnfof        bool
	log          logger.Logger

	cache *ristretto.Cache

	auditStore AuditStore
	auditCh    chan *AuditEntry
	auditWG    sync.WaitGroup
	closeOnce  sync.Once
}

func NewPrivilegesEvaluator(opts EvaluatorOptions) (*PrivilegesEvaluator, error) {
	if opts.Metadata == nil {
		return nil, errors.New("cluster metadata resolver is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}

	e := &PrivilegesEvaluator{
		catalog:      NewActionCatalog(),
		meta:         opts.Metadata,
		introspector: opts.Introspector,
		dnfof:        opts.DoNotFailOnForbidden,
		log:          log,
		auditStore:   opts.AuditStore,
	}

	if opts.DecisionCacheSize >= 0 {
		size := opts.DecisionCacheSize
		if size == 0 {
			size = defaultDecisionCacheSize
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: size * 10,
			MaxCost:     size,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}

	if e.auditStore != nil {
		e.auditCh = make(chan *AuditEntry, 1024)
		e.auditWG.Add(1)
		go e.auditLoop()
	}
	return e, nil
}

func (e *PrivilegesEvaluator) auditLoop() {
	defer e.auditWG.Done()
	for entry := range e.auditCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.auditStore.Record(ctx, entry); err != nil {
			e.log.Error("recording audit entry failed", "error", err.Error())
		}
		cancel()
	}
}

// Close stops the audit writer and releases the decision cache. The
// evaluator must not be used afterwards.
func (e *PrivilegesEvaluator) Close() error {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			close(e.auditCh)
			e.auditWG.Wait()
		}
		if e.cache != nil {
			e.cache.Close()
		}
	})
	return nil
}

// SetConfig validates, compiles and atomically publishes a configuration.
// On validation failure the previous generation stays active and the error
// lists every issue found.
func (e *PrivilegesEvaluator) SetConfig(cfg *RawConfig) error {
	bundle, err := cfg.Build()
	if err != nil {
		e.log.Error("configuration rejected", "error", err.Error())
		return err
	}
	snap := &authzSnapshot{
		bundle: bundle,
		auth:   NewRoleBasedAuthorization(bundle.Roles, e.catalog, e.log),
		interceptor: NewMultiTenancyInterceptor(
			bundle.MultiTenancy, bundle.Tenants, bundle.Roles, e.log),
	}
	e.snapshot.Store(snap)
	if e.cache != nil {
		e.cache.Clear()
	}
	e.log.Info("configuration applied",
		"roles", len(bundle.Roles.Names()),
		"tenants", len(bundle.Tenants.Names()))
	return nil
}

// IsInitialized reports whether a configuration generation is active.
func (e *PrivilegesEvaluator) IsInitialized() bool { return e.snapshot.Load() != nil }

// GetMappedRoles returns the sorted role names mapped to the user.
func (e *PrivilegesEvaluator) GetMappedRoles(user *User, host string) ([]string, error) {
	snap := e.snapshot.Load()
	if snap == nil {
		return nil, ErrNotInitialized
	}
	mapped := snap.bundle.RoleMappings.MappedRoles(user, host)
	out := make([]string, 0, len(mapped))
	for name := range mapped {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// MultitenancyEnabled reports whether the active configuration intercepts
// frontend index requests.
func (e *PrivilegesEvaluator) MultitenancyEnabled() bool {
	snap := e.snapshot.Load()
	return snap != nil && snap.interceptor.Enabled()
}

// AllConfiguredTenantNames returns the tenant names of the active
// configuration.
func (e *PrivilegesEvaluator) AllConfiguredTenantNames() []string {
	snap := e.snapshot.Load()
	if snap == nil {
		return nil
	}
	return snap.bundle.Tenants.Names()
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate authorizes one request for one action. The request may be
// rewritten in place: multi-tenancy redirects frontend index names, and with
// do-not-fail-on-forbidden a partially authorized request is reduced to its
// permitted indices.
//
// Internal failures never escape as errors; they are folded into a denying
// result so the engine fails closed.
func (e *PrivilegesEvaluator) Evaluate(ctx context.Context, user *User, actionName string, request any) (*PrivilegesEvaluationResult, error) {
	snap := e.snapshot.Load()
	if snap == nil {
		return nil, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := e.evaluate(snap, user, actionName, request)
	e.audit(user, actionName, result)
	return result, nil
}

func (e *PrivilegesEvaluator) evaluate(snap *authzSnapshot, user *User, actionName string, request any) *PrivilegesEvaluationResult {
	action := e.catalog.Get(actionName)

	if user.IsAdminCert {
		return ResultOK()
	}
	if e.catalog.IsAdminOnly(actionName) {
		return ResultInsufficient("reserved for admin certificate")
	}
	if action.IsOpen() {
		return ResultOK()
	}

	mappedRoles := snap.bundle.RoleMappings.MappedRoles(user, user.RemoteAddress)

	switch {
	case action.IsTenantAction():
		return e.evaluateTenantAction(snap, user, mappedRoles, actionName)
	case action.IsClusterAction():
		return e.evaluateClusterAction(snap, user, mappedRoles, actionName, request)
	default:
		return e.evaluateIndexAction(snap, user, mappedRoles, action, request)
	}
}

func (e *PrivilegesEvaluator) evaluateTenantAction(snap *authzSnapshot, user *User, mappedRoles map[string]bool, actionName string) *PrivilegesEvaluationResult {
	tenant := user.RequestedTenant
	if tenant == "" {
		tenant = GlobalTenantName
	}
	if cached := e.cachedResult(user, mappedRoles, actionName, tenant); cached != nil {
		return cached
	}
	res := snap.auth.HasTenantPermission(user, mappedRoles, tenant, tenantActionRequiresWrite(actionName))
	e.cacheResult(user, mappedRoles, actionName, tenant, res)
	return res
}

// tenantActionRequiresWrite classifies a tenant-scoped action into the
// read/write pair tenant grants distinguish. Anything that is not clearly a
// read is treated as a write.
func tenantActionRequiresWrite(action string) bool {
	return !strings.HasSuffix(action, "/read") && !strings.HasSuffix(action, ":read") &&
		!strings.HasSuffix(action, "/get") && !strings.HasSuffix(action, ":info")
}

const restoreActionName = "cluster:admin/snapshot/restore"

// evaluateRestore applies the snapshot restore rules: no global state, no
// protected targets, and create plus write privileges on every restore
// target on top of the restore permission itself.
func (e *PrivilegesEvaluator) evaluateRestore(snap *authzSnapshot, user *User, mappedRoles map[string]bool, req SnapshotRestoreRequest) *PrivilegesEvaluationResult {
	if req.IncludesGlobalState() {
		return ResultInsufficient("restoring global state is not permitted")
	}
	targets := req.RestoreIndices()
	if !e.bypassesProtectedIndices(snap, mappedRoles) {
		for _, idx := range targets {
			if snap.bundle.ProtectedIndices.MatchesAny(idx) {
				return ResultInsufficient("restore target " + idx + " is protected")
			}
		}
	}
	if res := snap.auth.HasClusterPermission(user, mappedRoles, restoreActionName); !res.IsOK() {
		return res
	}
	if len(targets) == 0 {
		return ResultOK()
	}
	return snap.auth.HasIndexPermission(user, mappedRoles,
		[]string{"indices:admin/create", "indices:data/write/index"},
		&ResolvedIndices{LocalIndices: targets})
}

func (e *PrivilegesEvaluator) bypassesProtectedIndices(snap *authzSnapshot, mappedRoles map[string]bool) bool {
	for _, name := range snap.bundle.ProtectedIndexExceptionRoles {
		if mappedRoles[name] {
			return true
		}
	}
	return false
}

func (e *PrivilegesEvaluator) evaluateClusterAction(snap *authzSnapshot, user *User, mappedRoles map[string]bool, actionName string, request any) *PrivilegesEvaluationResult {
	if req, ok := request.(SnapshotRestoreRequest); ok && actionName == restoreActionName {
		return e.evaluateRestore(snap, user, mappedRoles, req)
	}
	res := e.cachedResult(user, mappedRoles, actionName, "")
	if res == nil {
		res = snap.auth.HasClusterPermission(user, mappedRoles, actionName)
		e.cacheResult(user, mappedRoles, actionName, "", res)
	}
	if !res.IsOK() {
		return res
	}
	// Cluster-scoped index actions such as bulk may still carry frontend
	// index items. Interception runs after the permission check; a request
	// that is going to be denied must never be rewritten.
	if request != nil {
		switch snap.interceptor.Intercept(request, actionName, user, mappedRoles) {
		case DecisionDeny:
			return ResultInsufficient("no access to the selected tenant")
		case DecisionAllow, DecisionNormal:
		}
	}
	return res
}

func (e *PrivilegesEvaluator) evaluateIndexAction(snap *authzSnapshot, user *User, mappedRoles map[string]bool, action Action, request any) *PrivilegesEvaluationResult {
	if request != nil {
		switch snap.interceptor.Intercept(request, action.Name, user, mappedRoles) {
		case DecisionAllow:
			// The request now addresses the tenant's backing index only;
			// tenant access has been verified. Documents inside the backing
			// index are addressed by id, so DLS queries cannot apply there,
			// field rules still do.
			res := ResultOK()
			if e.introspector != nil {
				if exprs, _, ok := e.introspector.ResolveTargets(request, action.Name); ok {
					roles := snap.bundle.Roles.Select(mappedRoles)
					res = res.WithDlsFls(BuildDlsFlsConfig(user, roles, exprs).WithoutDls())
				}
			}
			return res
		case DecisionDeny:
			return ResultInsufficient("no access to the selected tenant")
		case DecisionNormal:
		}
	}

	if e.introspector == nil || request == nil {
		return ResultInsufficient("request cannot be introspected")
	}
	expressions, opts, ok := e.introspector.ResolveTargets(request, action.Name)
	if !ok {
		// Unknown request types are not authorizable per index.
		return ResultInsufficient("unknown request type")
	}

	resolved := ResolveIndexExpressions(expressions, opts, e.meta)
	if resolved.IsEmpty() {
		// A request addressing only remote indices is authorized by the
		// remote cluster; nothing is left to check locally.
		if len(resolved.RemoteIndices) > 0 || opts.AllowNoIndices {
			return ResultOK()
		}
		return ResultEmpty("request resolved to no indices")
	}

	if !e.bypassesProtectedIndices(snap, mappedRoles) {
		for _, idx := range resolved.EffectiveLocalIndices() {
			if snap.bundle.ProtectedIndices.MatchesAny(idx) {
				return ResultInsufficient("index " + idx + " is protected")
			}
		}
	}

	requiredActions := e.catalog.ExpandRequired(action.Name)
	res := snap.auth.HasIndexPermission(user, mappedRoles, requiredActions, resolved)

	if res.Status == StatusPartiallyOK && e.dnfof {
		available := res.AvailableIndices()
		if e.introspector.Reduce(request, action.Name, available) {
			e.log.Debug("request reduced to authorized indices",
				"user", user.Name, "action", action.Name,
				"indices", strings.Join(available, ","))
			res = ResultOK().WithCheckTable(res.CheckTable)
		} else {
			// A partial grant the request cannot be shrunk to is a denial;
			// PARTIALLY_OK must not leak to the caller.
			res = ResultInsufficient("request cannot be reduced to its authorized indices").
				WithCheckTable(res.CheckTable)
		}
	}
	if res.Status == StatusInsufficient && e.dnfof {
		if e.introspector.ForceEmptyResult(request, action.Name) {
			res = ResultOK().WithCheckTable(res.CheckTable)
		}
	}
	if res.Status == StatusOK || res.Status == StatusPartiallyOK {
		granted := res.AvailableIndices()
		if res.CheckTable == nil {
			granted = resolved.EffectiveLocalIndices()
		}
		if len(granted) > 0 {
			roles := snap.bundle.Roles.Select(mappedRoles)
			res = res.WithDlsFls(BuildDlsFlsConfig(user, roles, granted))
		}
	}
	return res
}

// ============================================================================
// DECISION CACHE
// ============================================================================

// Cache keys cover cluster and tenant decisions only. Index decisions may
// rewrite the request and depend on live topology, so they are never cached.
func decisionCacheKey(user *User, mappedRoles map[string]bool, action, tenant string) string {
	roles := make([]string, 0, len(mappedRoles))
	for r := range mappedRoles {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return user.Name + "\x00" + tenant + "\x00" + action + "\x00" + strings.Join(roles, ",")
}

func (e *PrivilegesEvaluator) cachedResult(user *User, mappedRoles map[string]bool, action, tenant string) *PrivilegesEvaluationResult {
	if e.cache == nil {
		return nil
	}
	v, ok := e.cache.Get(decisionCacheKey(user, mappedRoles, action, tenant))
	if !ok {
		return nil
	}
	res, ok := v.(*PrivilegesEvaluationResult)
	if !ok {
		return nil
	}
	return res
}

func (e *PrivilegesEvaluator) cacheResult(user *User, mappedRoles map[string]bool, action, tenant string, res *PrivilegesEvaluationResult) {
	if e.cache == nil {
		return
	}
	e.cache.Set(decisionCacheKey(user, mappedRoles, action, tenant), res, 1)
}

// ============================================================================
// AUDIT
// ============================================================================

func (e *PrivilegesEvaluator) audit(user *User, action string, res *PrivilegesEvaluationResult) {
	if e.auditCh == nil {
		return
	}
	entry := &AuditEntry{
		Timestamp: time.Now().UTC(),
		User:      user.Name,
		Tenant:    user.RequestedTenant,
		Action:    action,
		Status:    res.Status.String(),
		Reason:    res.Reason,
	}
	if res.CheckTable != nil {
		entry.Indices = res.CheckTable.Rows()
	}
	select {
	case e.auditCh <- entry:
	default:
		// Auditing never blocks request evaluation.
		e.log.Error("audit channel full, dropping entry", "user", user.Name, "action", action)
	}
}
