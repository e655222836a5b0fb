package searchauthz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/searchauthz/utils"
)

// ============================================================================
// USER
// ============================================================================

// User is the authenticated subject an evaluation runs for. Attributes feed
// index pattern and DLS query templates.
type User struct {
	Name            string
	BackendRoles    []string
	Attributes      map[string]string
	RequestedTenant string
	// RemoteAddress is the host or IP the caller connected from, matched by
	// the host rules of role mappings.
	RemoteAddress string
	IsAdminCert   bool
}

// ============================================================================
// ROLE DOCUMENTS
// ============================================================================

// RoleDocument is the on-disk shape of one role definition.
type RoleDocument struct {
	Reserved bool `yaml:"reserved,omitempty" json:"reserved,omitempty"`
	Hidden   bool `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Static   bool `yaml:"static,omitempty" json:"static,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	ClusterPermissions        []string `yaml:"cluster_permissions,omitempty" json:"cluster_permissions,omitempty"`
	ExcludeClusterPermissions []string `yaml:"exclude_cluster_permissions,omitempty" json:"exclude_cluster_permissions,omitempty"`

	IndexPermissions        []IndexPermissionDocument        `yaml:"index_permissions,omitempty" json:"index_permissions,omitempty"`
	ExcludeIndexPermissions []ExcludeIndexPermissionDocument `yaml:"exclude_index_permissions,omitempty" json:"exclude_index_permissions,omitempty"`

	TenantPermissions []TenantPermissionDocument `yaml:"tenant_permissions,omitempty" json:"tenant_permissions,omitempty"`
}

type IndexPermissionDocument struct {
	IndexPatterns  []string `yaml:"index_patterns" json:"index_patterns"`
	AllowedActions []string `yaml:"allowed_actions" json:"allowed_actions"`
	DLS            string   `yaml:"dls,omitempty" json:"dls,omitempty"`
	FLS            []string `yaml:"fls,omitempty" json:"fls,omitempty"`
	MaskedFields   []string `yaml:"masked_fields,omitempty" json:"masked_fields,omitempty"`
}

type ExcludeIndexPermissionDocument struct {
	IndexPatterns []string `yaml:"index_patterns" json:"index_patterns"`
	Actions       []string `yaml:"actions" json:"actions"`
}

// TenantPermissionDocument grants access to matching tenants. Read and write
// are independent flags, not an action pattern list.
type TenantPermissionDocument struct {
	TenantPatterns []string `yaml:"tenant_patterns" json:"tenant_patterns"`
	Read           bool     `yaml:"read,omitempty" json:"read,omitempty"`
	Write          bool     `yaml:"write,omitempty" json:"write,omitempty"`
}

// ============================================================================
// TEMPLATED PATTERNS
// ============================================================================

// templateMarker is present in any pattern that must be rendered against the
// user before matching.
func isTemplated(s string) bool { return strings.Contains(s, "${") }

// renderTemplate substitutes ${user.name}, ${user.roles} and ${attr.<key>}
// placeholders. Unresolvable placeholders are an error so a role never
// silently matches a literal "${attr.dept}" index.
func renderTemplate(s string, user *User) (string, error) {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		b.WriteString(s[:i])
		rest := s[i+2:]
		j := strings.Index(rest, "}")
		if j < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}
		key := rest[:j]
		switch {
		case key == "user.name" || key == "user_name":
			b.WriteString(user.Name)
		case key == "user.roles" || key == "user_roles":
			b.WriteString(strings.Join(user.BackendRoles, ","))
		case strings.HasPrefix(key, "attr."):
			v, ok := user.Attributes[strings.TrimPrefix(key, "attr.")]
			if !ok {
				return "", fmt.Errorf("user %s has no attribute %q", user.Name, key)
			}
			b.WriteString(v)
		default:
			return "", fmt.Errorf("unknown placeholder ${%s}", key)
		}
		s = rest[j+1:]
	}
}

// renderPatterns compiles a pattern list against a concrete user, combining
// pre-compiled static patterns with rendered templated ones.
func renderPatterns(static *utils.PatternList, templated []string, user *User) (*utils.PatternList, error) {
	if len(templated) == 0 {
		return static, nil
	}
	exprs := append([]string(nil), static.Sources()...)
	for _, t := range templated {
		rendered, err := renderTemplate(t, user)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, rendered)
	}
	return utils.CompileList(exprs)
}

// ============================================================================
// PARSED ROLES
// ============================================================================

// IndexPermission is one parsed index grant of a role.
type IndexPermission struct {
	patterns          *utils.PatternList
	templatedPatterns []string
	allowedActions    *utils.PatternList
	DLS               string
	FLS               []string
	MaskedFields      []string
}

// PatternsFor resolves the grant's index patterns for a concrete user.
func (p *IndexPermission) PatternsFor(user *User) (*utils.PatternList, error) {
	return renderPatterns(p.patterns, p.templatedPatterns, user)
}

// AllowsAction reports whether the grant covers the action name.
func (p *IndexPermission) AllowsAction(action string) bool {
	return p.allowedActions.MatchesAny(action)
}

// GrantsMatchAll reports whether the grant carries a literal "*" index
// pattern. Only such grants can authorize a request addressing all local
// indices wholesale.
func (p *IndexPermission) GrantsMatchAll() bool { return p.patterns.ContainsMatchAll() }

// HasDlsFls reports whether the grant restricts documents or fields.
func (p *IndexPermission) HasDlsFls() bool {
	return p.DLS != "" || len(p.FLS) > 0 || len(p.MaskedFields) > 0
}

// ExcludeIndexPermission is one parsed index exclusion of a role.
type ExcludeIndexPermission struct {
	patterns          *utils.PatternList
	templatedPatterns []string
	actions           *utils.PatternList
}

func (p *ExcludeIndexPermission) PatternsFor(user *User) (*utils.PatternList, error) {
	return renderPatterns(p.patterns, p.templatedPatterns, user)
}

func (p *ExcludeIndexPermission) ExcludesAction(action string) bool {
	return p.actions.MatchesAny(action)
}

// TenantPermission is one parsed tenant grant of a role. Write implies read.
type TenantPermission struct {
	patterns *utils.PatternList
	read     bool
	write    bool
}

func (p *TenantPermission) MatchesTenant(tenant string) bool {
	return p.patterns.MatchesAny(tenant)
}

// Allows reports whether the grant covers the requested access level.
func (p *TenantPermission) Allows(write bool) bool {
	if write {
		return p.write
	}
	return p.read || p.write
}

// Role is an immutable parsed role. All static pattern lists are compiled
// once at configuration time; templated index patterns are rendered per user
// at evaluation time.
type Role struct {
	Name     string
	Reserved bool
	Hidden   bool
	Static   bool

	clusterPermissions        *utils.PatternList
	excludeClusterPermissions *utils.PatternList

	IndexPermissions        []*IndexPermission
	ExcludeIndexPermissions []*ExcludeIndexPermission
	TenantPermissions       []*TenantPermission
}

// ImpliesClusterPermission reports whether the role grants the cluster action.
// Exclusions of the same role defeat its own grants.
func (r *Role) ImpliesClusterPermission(action string) bool {
	if !r.clusterPermissions.MatchesAny(action) {
		return false
	}
	return !r.excludeClusterPermissions.MatchesAny(action)
}

// ImpliesTenantPermission reports whether the role grants the requested
// access level on the named tenant.
func (r *Role) ImpliesTenantPermission(tenant string, write bool) bool {
	for _, tp := range r.TenantPermissions {
		if tp.MatchesTenant(tenant) && tp.Allows(write) {
			return true
		}
	}
	return false
}

// splitTemplated partitions pattern expressions into statically compilable
// ones and templated ones, collecting compile failures.
func splitTemplated(exprs []string, attr string, verr *ValidationError) (*utils.PatternList, []string) {
	static := make([]string, 0, len(exprs))
	var templated []string
	for i, e := range exprs {
		if e == "" {
			verr.Addf(fmt.Sprintf("%s[%d]", attr, i), "empty pattern")
			continue
		}
		if isTemplated(e) {
			templated = append(templated, e)
			continue
		}
		static = append(static, e)
	}
	list, err := utils.CompileList(static)
	if err != nil {
		verr.Add(attr, err.Error())
		list = utils.MustCompileList(nil)
	}
	return list, templated
}

func compileActionList(exprs []string, attr string, verr *ValidationError) *utils.PatternList {
	for i, e := range exprs {
		if e == "" {
			verr.Addf(fmt.Sprintf("%s[%d]", attr, i), "empty action pattern")
		}
		if isTemplated(e) {
			verr.Addf(fmt.Sprintf("%s[%d]", attr, i), "action patterns must not contain placeholders")
		}
	}
	list, err := utils.CompileList(exprs)
	if err != nil {
		verr.Add(attr, err.Error())
		return utils.MustCompileList(nil)
	}
	return list
}

// ParseRole validates and compiles one role document. Every issue in the
// document is collected; a role with issues is rejected as a whole.
func ParseRole(name string, doc *RoleDocument) (*Role, error) {
	verr := &ValidationError{}

	role := &Role{
		Name:     name,
		Reserved: doc.Reserved,
		Hidden:   doc.Hidden,
		Static:   doc.Static,
	}

	role.clusterPermissions = compileActionList(doc.ClusterPermissions, "cluster_permissions", verr)
	role.excludeClusterPermissions = compileActionList(doc.ExcludeClusterPermissions, "exclude_cluster_permissions", verr)

	for i, ip := range doc.IndexPermissions {
		attr := fmt.Sprintf("index_permissions[%d]", i)
		if len(ip.IndexPatterns) == 0 {
			verr.Add(attr+".index_patterns", "must not be empty")
		}
		if len(ip.AllowedActions) == 0 {
			verr.Add(attr+".allowed_actions", "must not be empty")
		}
		static, templated := splitTemplated(ip.IndexPatterns, attr+".index_patterns", verr)
		perm := &IndexPermission{
			patterns:          static,
			templatedPatterns: templated,
			allowedActions:    compileActionList(ip.AllowedActions, attr+".allowed_actions", verr),
			DLS:               ip.DLS,
			FLS:               append([]string(nil), ip.FLS...),
			MaskedFields:      append([]string(nil), ip.MaskedFields...),
		}
		role.IndexPermissions = append(role.IndexPermissions, perm)
	}

	for i, ep := range doc.ExcludeIndexPermissions {
		attr := fmt.Sprintf("exclude_index_permissions[%d]", i)
		if len(ep.IndexPatterns) == 0 {
			verr.Add(attr+".index_patterns", "must not be empty")
		}
		if len(ep.Actions) == 0 {
			verr.Add(attr+".actions", "must not be empty")
		}
		static, templated := splitTemplated(ep.IndexPatterns, attr+".index_patterns", verr)
		role.ExcludeIndexPermissions = append(role.ExcludeIndexPermissions, &ExcludeIndexPermission{
			patterns:          static,
			templatedPatterns: templated,
			actions:           compileActionList(ep.Actions, attr+".actions", verr),
		})
	}

	for i, tp := range doc.TenantPermissions {
		attr := fmt.Sprintf("tenant_permissions[%d]", i)
		if len(tp.TenantPatterns) == 0 {
			verr.Add(attr+".tenant_patterns", "must not be empty")
		}
		if !tp.Read && !tp.Write {
			verr.Add(attr, "grants neither read nor write")
		}
		for j, p := range tp.TenantPatterns {
			if isTemplated(p) {
				verr.Addf(fmt.Sprintf("%s.tenant_patterns[%d]", attr, j), "tenant patterns must not contain placeholders")
			}
		}
		patterns, err := utils.CompileList(tp.TenantPatterns)
		if err != nil {
			verr.Add(attr+".tenant_patterns", err.Error())
			patterns = utils.MustCompileList(nil)
		}
		role.TenantPermissions = append(role.TenantPermissions, &TenantPermission{
			patterns: patterns,
			read:     tp.Read,
			write:    tp.Write,
		})
	}

	if verr.HasIssues() {
		return nil, verr
	}
	return role, nil
}

// RoleRepository holds the parsed roles of one configuration generation.
type RoleRepository struct {
	roles map[string]*Role
}

// ParseRoles parses every role document, collecting issues across all of
// them. One malformed role rejects the whole set.
func ParseRoles(docs map[string]*RoleDocument) (*RoleRepository, error) {
	verr := &ValidationError{}
	repo := &RoleRepository{roles: make(map[string]*Role, len(docs))}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		role, err := ParseRole(name, docs[name])
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				verr.Merge(name, ve)
			} else {
				verr.Add(name, err.Error())
			}
			continue
		}
		repo.roles[name] = role
	}
	if verr.HasIssues() {
		return nil, verr
	}
	return repo, nil
}

// Get returns the named role, or nil when unknown.
func (r *RoleRepository) Get(name string) *Role { return r.roles[name] }

// Names returns the sorted role names.
func (r *RoleRepository) Names() []string {
	out := make([]string, 0, len(r.roles))
	for name := range r.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Select returns the roles out of the given name set that exist, in sorted
// name order. Unknown names are skipped silently; a user may carry mappings
// to roles that were removed.
func (r *RoleRepository) Select(names map[string]bool) []*Role {
	selected := make([]string, 0, len(names))
	for name := range names {
		if _, ok := r.roles[name]; ok {
			selected = append(selected, name)
		}
	}
	sort.Strings(selected)
	out := make([]*Role, 0, len(selected))
	for _, name := range selected {
		out = append(out, r.roles[name])
	}
	return out
}
