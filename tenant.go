package searchauthz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/searchauthz/logger"
)

// ============================================================================
// TENANTS
// ============================================================================

// GlobalTenantName is the sentinel for the shared default tenant. It is not
// a configurable tenant; requests for it keep the frontend index unmodified.
const GlobalTenantName = "SGS_GLOBAL_TENANT"

// PrivateTenantName selects the user's personal tenant.
const PrivateTenantName = "__user__"

// TenantDocument is the on-disk shape of one tenant definition.
type TenantDocument struct {
	Reserved    bool   `yaml:"reserved,omitempty" json:"reserved,omitempty"`
	Hidden      bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// TenantRepository holds the configured tenant names.
type TenantRepository struct {
	tenants map[string]*TenantDocument
}

func NewTenantRepository(docs map[string]*TenantDocument) *TenantRepository {
	t := &TenantRepository{tenants: make(map[string]*TenantDocument, len(docs))}
	for name, doc := range docs {
		t.tenants[name] = doc
	}
	return t
}

// Exists reports whether the tenant is configured. The global and private
// sentinels always exist.
func (t *TenantRepository) Exists(name string) bool {
	if name == GlobalTenantName || name == PrivateTenantName {
		return true
	}
	_, ok := t.tenants[name]
	return ok
}

// Names returns the sorted configured tenant names.
func (t *TenantRepository) Names() []string {
	out := make([]string, 0, len(t.tenants))
	for name := range t.tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// tenantHash computes the signed 32-bit polynomial hash of the tenant name,
// h = 31*h + c over the name's characters. Overflow wraps; negative values
// are kept as is because existing internal index names depend on them.
func tenantHash(name string) int32 {
	var h int32
	for _, c := range name {
		h = 31*h + int32(c)
	}
	return h
}

// sanitizeTenantName lowercases the name and strips every character outside
// [a-z0-9].
func sanitizeTenantName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// InternalTenantID derives the stable identifier a tenant's data is stored
// under, "<hash>_<sanitized>". Distinct tenants whose names differ only in
// stripped characters still get distinct identifiers through the hash.
func InternalTenantID(tenant string) string {
	return fmt.Sprintf("%d_%s", tenantHash(tenant), sanitizeTenantName(tenant))
}

// internalIndexName maps a frontend index to the per-tenant backing index.
func internalIndexName(frontendIndex, tenant string) string {
	return frontendIndex + "_" + InternalTenantID(tenant)
}

// ============================================================================
// FRONTEND INDEX RECOGNITION
// ============================================================================

// FrontendIndexShape classifies how a request names the frontend index.
type FrontendIndexShape int

const (
	// ShapeNone means the name does not belong to the frontend at all.
	ShapeNone FrontendIndexShape = iota
	// ShapeExact is the bare configured index name, e.g. ".kibana".
	ShapeExact
	// ShapeVersioned carries a version suffix, e.g. ".kibana_8.7.0_001".
	ShapeVersioned
	// ShapeTenant already carries an internal tenant id suffix.
	ShapeTenant
)

// FrontendIndexInfo is the outcome of recognizing a frontend index name.
type FrontendIndexInfo struct {
	Shape    FrontendIndexShape
	BaseName string
	Suffix   string
	TenantID string
}

// looksLikeVersionSuffix reports whether s has the shape of a frontend
// version suffix such as "8.7.0" or "8.7.0_001".
func looksLikeVersionSuffix(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= '0' && s[0] <= '9' && strings.Contains(s, ".")
}

// looksLikeTenantSuffix reports whether s has the shape "<hash>_<sanitized>"
// with a decimal, possibly negative, hash.
func looksLikeTenantSuffix(s string) bool {
	under := strings.Index(s, "_")
	if under <= 0 {
		return false
	}
	num := s[:under]
	if num[0] == '-' {
		num = num[1:]
	}
	if num == "" {
		return false
	}
	for _, c := range num {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range s[under+1:] {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// recognizeFrontendIndex matches an index name against the configured
// frontend index. The shapes are tried in a fixed order: the exact name,
// then a version suffixed name, then a tenant suffixed name. Names matching
// none of the shapes do not belong to the frontend.
func recognizeFrontendIndex(name, baseName string) FrontendIndexInfo {
	if name == baseName {
		return FrontendIndexInfo{Shape: ShapeExact, BaseName: baseName}
	}
	if !strings.HasPrefix(name, baseName+"_") {
		return FrontendIndexInfo{Shape: ShapeNone}
	}
	suffix := name[len(baseName)+1:]
	if looksLikeVersionSuffix(suffix) {
		return FrontendIndexInfo{Shape: ShapeVersioned, BaseName: baseName, Suffix: suffix}
	}
	if looksLikeTenantSuffix(suffix) {
		return FrontendIndexInfo{Shape: ShapeTenant, BaseName: baseName, TenantID: suffix}
	}
	return FrontendIndexInfo{Shape: ShapeNone}
}

// ============================================================================
// REQUEST REWRITE CAPABILITIES
// ============================================================================

// SingleIndexRequest is implemented by request types addressing exactly one
// index that can be redirected to a tenant's backing index.
type SingleIndexRequest interface {
	Index() string
	SetIndex(index string)
}

// MultiItemRequest is implemented by bulk-style requests whose items each
// address an index.
type MultiItemRequest interface {
	ItemIndices() []string
	SetItemIndex(i int, index string)
}

// AliasActionRequest is implemented by alias maintenance requests.
type AliasActionRequest interface {
	AliasTargetIndices() []string
	SetAliasTargetIndex(i int, index string)
}

// ============================================================================
// MULTI TENANCY INTERCEPTOR
// ============================================================================

// InterceptionDecision is the outcome of inspecting one request for tenant
// concerns.
type InterceptionDecision int

const (
	// DecisionNormal means the request does not touch the frontend index
	// and regular index authorization applies.
	DecisionNormal InterceptionDecision = iota
	// DecisionAllow means the request was authorized for the selected
	// tenant and rewritten to its backing index.
	DecisionAllow
	// DecisionDeny means the request touches the frontend index but the
	// user lacks access to the selected tenant.
	DecisionDeny
)

// Deprecated roles that historically implied frontend tenant access. Users
// still mapped to them keep working, with a warning, until configurations
// migrate to tenant_permissions.
const (
	legacyKibanaUserRole = "sg_kibana_user"
	legacyAllAccessRole  = "sg_all_access"
)

// MultiTenancyInterceptor redirects frontend index requests to per-tenant
// backing indices. It is rebuilt on every configuration update and holds no
// mutable state.
type MultiTenancyInterceptor struct {
	enabled           bool
	frontendIndex     string
	tenants           *TenantRepository
	roles             *RoleRepository
	globalAccessible  bool
	privateAccessible bool
	log               logger.Logger
}

// MultiTenancyConfig configures the interceptor.
type MultiTenancyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// FrontendIndex is the configured frontend system index, e.g. ".kibana".
	FrontendIndex string `yaml:"frontend_index,omitempty" json:"frontend_index,omitempty"`
	// GlobalTenantEnabled permits selecting the shared global tenant.
	GlobalTenantEnabled bool `yaml:"global_tenant_enabled" json:"global_tenant_enabled"`
	// PrivateTenantEnabled permits selecting the per-user private tenant.
	PrivateTenantEnabled bool `yaml:"private_tenant_enabled" json:"private_tenant_enabled"`
}

func NewMultiTenancyInterceptor(cfg MultiTenancyConfig, tenants *TenantRepository, roles *RoleRepository, log logger.Logger) *MultiTenancyInterceptor {
	if log == nil {
		log = logger.NewNullLogger()
	}
	frontendIndex := cfg.FrontendIndex
	if frontendIndex == "" {
		frontendIndex = ".kibana"
	}
	return &MultiTenancyInterceptor{
		enabled:           cfg.Enabled,
		frontendIndex:     frontendIndex,
		tenants:           tenants,
		roles:             roles,
		globalAccessible:  cfg.GlobalTenantEnabled,
		privateAccessible: cfg.PrivateTenantEnabled,
		log:               log,
	}
}

// Enabled reports whether multi-tenancy interception is active.
func (m *MultiTenancyInterceptor) Enabled() bool { return m != nil && m.enabled }

// FrontendIndex returns the configured frontend system index name.
func (m *MultiTenancyInterceptor) FrontendIndex() string { return m.frontendIndex }

// isWriteAction classifies frontend actions into the read/write pair tenant
// permissions distinguish.
func isWriteAction(action string) bool {
	return strings.HasPrefix(action, "indices:data/write/") ||
		strings.HasPrefix(action, "indices:admin/")
}

// selectedTenant resolves the tenant a request runs under. An empty
// selection falls back to the global tenant.
func (m *MultiTenancyInterceptor) selectedTenant(user *User) (string, error) {
	t := user.RequestedTenant
	if t == "" || t == GlobalTenantName {
		if !m.globalAccessible {
			return "", fmt.Errorf("global tenant is disabled")
		}
		return GlobalTenantName, nil
	}
	if t == PrivateTenantName || t == user.Name {
		if !m.privateAccessible {
			return "", fmt.Errorf("private tenant is disabled")
		}
		return PrivateTenantName, nil
	}
	if !m.tenants.Exists(t) {
		return "", fmt.Errorf("tenant %q does not exist", t)
	}
	return t, nil
}

// recognize classifies one request index name against the frontend index.
// Without a tenant header, a name that already carries a tenant suffix is
// legacy direct addressing and must pass through unmodified.
func (m *MultiTenancyInterceptor) recognize(name string, user *User) FrontendIndexInfo {
	info := recognizeFrontendIndex(name, m.frontendIndex)
	if info.Shape == ShapeTenant && user.RequestedTenant == "" {
		return FrontendIndexInfo{Shape: ShapeNone}
	}
	return info
}

// hasTenantAccess checks whether the mapped roles grant the access level the
// action needs on the tenant, falling back to the deprecated legacy roles.
// The global tenant is authorized like any named tenant; its enable flag
// governs selection, not access.
func (m *MultiTenancyInterceptor) hasTenantAccess(user *User, mappedRoles map[string]bool, tenant, action string) bool {
	if tenant == PrivateTenantName {
		// The private tenant belongs to the user alone.
		return true
	}
	write := isWriteAction(action)
	for _, role := range m.roles.Select(mappedRoles) {
		if role.ImpliesTenantPermission(tenant, write) {
			return true
		}
	}
	if mappedRoles[legacyAllAccessRole] || (mappedRoles[legacyKibanaUserRole] && !write) {
		m.log.Info("granting tenant access via deprecated legacy role, migrate to tenant_permissions",
			"user", user.Name, "tenant", tenant, "action", action)
		return true
	}
	return false
}

// rewriteTarget maps one recognized frontend index name to the tenant's
// backing index. The global tenant keeps names unmodified.
func (m *MultiTenancyInterceptor) rewriteTarget(info FrontendIndexInfo, user *User, tenant string) string {
	if tenant == GlobalTenantName {
		if info.Shape == ShapeVersioned {
			return info.BaseName + "_" + info.Suffix
		}
		return info.BaseName
	}
	name := tenant
	if tenant == PrivateTenantName {
		name = user.Name
	}
	base := info.BaseName
	if info.Shape == ShapeVersioned {
		base = info.BaseName + "_" + info.Suffix
	}
	return internalIndexName(base, name)
}

// Intercept inspects one request. When the request addresses the frontend
// index and the user may access the selected tenant, the request is
// rewritten in place to the tenant's backing index.
func (m *MultiTenancyInterceptor) Intercept(request any, action string, user *User, mappedRoles map[string]bool) InterceptionDecision {
	if !m.Enabled() {
		return DecisionNormal
	}

	switch req := request.(type) {
	case SingleIndexRequest:
		info := m.recognize(req.Index(), user)
		if info.Shape == ShapeNone {
			return DecisionNormal
		}
		tenant, err := m.selectedTenant(user)
		if err != nil {
			m.log.Debug("tenant selection rejected", "user", user.Name, "error", err.Error())
			return DecisionDeny
		}
		if !m.hasTenantAccess(user, mappedRoles, tenant, action) {
			return DecisionDeny
		}
		req.SetIndex(m.rewriteTarget(info, user, tenant))
		return DecisionAllow

	case MultiItemRequest:
		items := req.ItemIndices()
		touched := -1
		for i, idx := range items {
			if m.recognize(idx, user).Shape != ShapeNone {
				touched = i
				break
			}
		}
		if touched < 0 {
			return DecisionNormal
		}
		tenant, err := m.selectedTenant(user)
		if err != nil {
			m.log.Debug("tenant selection rejected", "user", user.Name, "error", err.Error())
			return DecisionDeny
		}
		if !m.hasTenantAccess(user, mappedRoles, tenant, action) {
			return DecisionDeny
		}
		for i, idx := range items {
			info := m.recognize(idx, user)
			if info.Shape != ShapeNone {
				req.SetItemIndex(i, m.rewriteTarget(info, user, tenant))
			}
		}
		return DecisionAllow

	case AliasActionRequest:
		targets := req.AliasTargetIndices()
		touched := false
		for _, idx := range targets {
			if m.recognize(idx, user).Shape != ShapeNone {
				touched = true
				break
			}
		}
		if !touched {
			return DecisionNormal
		}
		tenant, err := m.selectedTenant(user)
		if err != nil {
			m.log.Debug("tenant selection rejected", "user", user.Name, "error", err.Error())
			return DecisionDeny
		}
		if !m.hasTenantAccess(user, mappedRoles, tenant, action) {
			return DecisionDeny
		}
		for i, idx := range targets {
			info := m.recognize(idx, user)
			if info.Shape != ShapeNone {
				req.SetAliasTargetIndex(i, m.rewriteTarget(info, user, tenant))
			}
		}
		return DecisionAllow
	}

	// Request types without a rewrite capability pass through unmodified.
	// Regular index authorization still applies to them.
	m.log.Debug("request type not eligible for tenant rewrite", "action", action)
	return DecisionNormal
}
