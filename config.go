package searchauthz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oarkflow/searchauthz/utils"
)

// ============================================================================
// CONFIGURATION DOCUMENTS
// ============================================================================

// ActionGroupDocument is the on-disk shape of one action group. Groups may
// reference other groups by name; references are expanded at build time.
type ActionGroupDocument struct {
	Reserved       bool     `yaml:"reserved,omitempty" json:"reserved,omitempty"`
	Hidden         bool     `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Static         bool     `yaml:"static,omitempty" json:"static,omitempty"`
	Type           string   `yaml:"type,omitempty" json:"type,omitempty"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	AllowedActions []string `yaml:"allowed_actions" json:"allowed_actions"`
}

// RawConfig is the complete security configuration as loaded from disk or
// the configuration index, before validation and compilation.
type RawConfig struct {
	Roles        map[string]*RoleDocument        `yaml:"roles,omitempty" json:"roles,omitempty"`
	RoleMappings map[string]*RoleMappingDocument `yaml:"role_mappings,omitempty" json:"role_mappings,omitempty"`
	ActionGroups map[string]*ActionGroupDocument `yaml:"action_groups,omitempty" json:"action_groups,omitempty"`
	Tenants      map[string]*TenantDocument      `yaml:"tenants,omitempty" json:"tenants,omitempty"`

	MultiTenancy MultiTenancyConfig `yaml:"multi_tenancy,omitempty" json:"multi_tenancy,omitempty"`

	// ProtectedIndices are patterns of system indices no regular user may
	// touch regardless of roles.
	ProtectedIndices []string `yaml:"protected_indices,omitempty" json:"protected_indices,omitempty"`

	// ProtectedIndexExceptionRoles names roles whose members bypass the
	// protected index rules, for maintenance tooling.
	ProtectedIndexExceptionRoles []string `yaml:"protected_index_exception_roles,omitempty" json:"protected_index_exception_roles,omitempty"`
}

// LoadConfigYAML parses a configuration document, rejecting unknown fields
// so typos surface instead of silently dropping rules.
func LoadConfigYAML(r io.Reader) (*RawConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	cfg := &RawConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigYAMLFile reads and parses a configuration file.
func LoadConfigYAMLFile(path string) (*RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfigYAML(bytes.NewReader(data))
}

// LoadConfigJSON parses a JSON configuration document.
func LoadConfigJSON(r io.Reader) (*RawConfig, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	cfg := &RawConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// ACTION GROUP EXPANSION
// ============================================================================

// actionGroupExpander resolves action group references to flat action
// pattern lists. Expansion is memoized; reference cycles are an error.
type actionGroupExpander struct {
	groups   map[string]*ActionGroupDocument
	resolved map[string][]string
	visiting map[string]bool
	verr     *ValidationError
}

func newActionGroupExpander(groups map[string]*ActionGroupDocument, verr *ValidationError) *actionGroupExpander {
	return &actionGroupExpander{
		groups:   groups,
		resolved: make(map[string][]string, len(groups)),
		visiting: make(map[string]bool),
		verr:     verr,
	}
}

// expandGroup returns the flat actions of one group.
func (e *actionGroupExpander) expandGroup(name string) []string {
	if flat, ok := e.resolved[name]; ok {
		return flat
	}
	if e.visiting[name] {
		e.verr.Add("action_groups."+name, "reference cycle")
		return nil
	}
	e.visiting[name] = true
	defer delete(e.visiting, name)

	doc := e.groups[name]
	var flat []string
	for _, a := range doc.AllowedActions {
		if _, isGroup := e.groups[a]; isGroup {
			flat = append(flat, e.expandGroup(a)...)
		} else {
			flat = append(flat, a)
		}
	}
	flat = dedupeStrings(flat)
	e.resolved[name] = flat
	return flat
}

// expandList replaces group references in an action list with their flat
// expansion, leaving plain actions and patterns untouched.
func (e *actionGroupExpander) expandList(actions []string) []string {
	var out []string
	for _, a := range actions {
		if _, isGroup := e.groups[a]; isGroup {
			out = append(out, e.expandGroup(a)...)
		} else {
			out = append(out, a)
		}
	}
	return dedupeStrings(out)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// expandRoleDocument returns a copy of the role document with every action
// group reference flattened.
func expandRoleDocument(doc *RoleDocument, e *actionGroupExpander) *RoleDocument {
	out := *doc
	out.ClusterPermissions = e.expandList(doc.ClusterPermissions)
	out.ExcludeClusterPermissions = e.expandList(doc.ExcludeClusterPermissions)
	out.IndexPermissions = make([]IndexPermissionDocument, len(doc.IndexPermissions))
	for i, ip := range doc.IndexPermissions {
		c := ip
		c.AllowedActions = e.expandList(ip.AllowedActions)
		out.IndexPermissions[i] = c
	}
	out.ExcludeIndexPermissions = make([]ExcludeIndexPermissionDocument, len(doc.ExcludeIndexPermissions))
	for i, ep := range doc.ExcludeIndexPermissions {
		c := ep
		c.Actions = e.expandList(ep.Actions)
		out.ExcludeIndexPermissions[i] = c
	}
	out.TenantPermissions = append([]TenantPermissionDocument(nil), doc.TenantPermissions...)
	return &out
}

// ============================================================================
// CONFIG BUNDLE
// ============================================================================

// ConfigBundle is one fully validated, compiled configuration generation.
// Bundles are immutable; a configuration update builds a fresh bundle and
// swaps it in atomically.
type ConfigBundle struct {
	Roles                        *RoleRepository
	RoleMappings                 *RoleMappings
	Tenants                      *TenantRepository
	ProtectedIndices             *utils.PatternList
	ProtectedIndexExceptionRoles []string
	MultiTenancy                 MultiTenancyConfig
}

// Build validates and compiles the raw configuration. All issues across all
// documents are collected; any issue rejects the configuration as a whole so
// a running engine never picks up a half-valid generation.
func (c *RawConfig) Build() (*ConfigBundle, error) {
	verr := &ValidationError{}

	expander := newActionGroupExpander(c.ActionGroups, verr)
	groupNames := make([]string, 0, len(c.ActionGroups))
	for name := range c.ActionGroups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		if len(c.ActionGroups[name].AllowedActions) == 0 {
			verr.Add("action_groups."+name+".allowed_actions", "must not be empty")
		}
		expander.expandGroup(name)
	}

	expandedRoles := make(map[string]*RoleDocument, len(c.Roles))
	for name, doc := range c.Roles {
		if strings.TrimSpace(name) == "" {
			verr.Add("roles", "role with empty name")
			continue
		}
		expandedRoles[name] = expandRoleDocument(doc, expander)
	}

	roles, err := ParseRoles(expandedRoles)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			verr.Merge("roles", ve)
		} else {
			verr.Add("roles", err.Error())
		}
	}

	mappings, err := ParseRoleMappings(c.RoleMappings)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			verr.Merge("role_mappings", ve)
		} else {
			verr.Add("role_mappings", err.Error())
		}
	}

	for i, p := range c.ProtectedIndices {
		if p == "" {
			verr.Addf(fmt.Sprintf("protected_indices[%d]", i), "empty pattern")
		}
	}
	protected, perr := utils.CompileList(c.ProtectedIndices)
	if perr != nil {
		verr.Add("protected_indices", perr.Error())
	}

	if verr.HasIssues() {
		return nil, verr
	}

	return &ConfigBundle{
		Roles:                        roles,
		RoleMappings:                 mappings,
		Tenants:                      NewTenantRepository(c.Tenants),
		ProtectedIndices:             protected,
		ProtectedIndexExceptionRoles: append([]string(nil), c.ProtectedIndexExceptionRoles...),
		MultiTenancy:                 c.MultiTenancy,
	}, nil
}

// Stats summarizes a raw configuration for operator tooling.
func (c *RawConfig) Stats() map[string]int {
	return map[string]int{
		"roles":             len(c.Roles),
		"role_mappings":     len(c.RoleMappings),
		"action_groups":     len(c.ActionGroups),
		"tenants":           len(c.Tenants),
		"protected_indices": len(c.ProtectedIndices),
	}
}
