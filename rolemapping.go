package searchauthz

import (
	"fmt"
	"sort"

	"github.com/oarkflow/searchauthz/utils"
)

// ============================================================================
// ROLE MAPPING
// ============================================================================

// RoleMappingDocument is the on-disk shape of one role mapping. A mapping
// assigns its role to users matched by name, backend role, or host.
type RoleMappingDocument struct {
	Reserved bool `yaml:"reserved,omitempty" json:"reserved,omitempty"`
	Hidden   bool `yaml:"hidden,omitempty" json:"hidden,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Users           []string `yaml:"users,omitempty" json:"users,omitempty"`
	BackendRoles    []string `yaml:"backend_roles,omitempty" json:"backend_roles,omitempty"`
	AndBackendRoles []string `yaml:"and_backend_roles,omitempty" json:"and_backend_roles,omitempty"`
	Hosts           []string `yaml:"hosts,omitempty" json:"hosts,omitempty"`
}

type roleMapping struct {
	roleName        string
	users           *utils.PatternList
	backendRoles    *utils.PatternList
	andBackendRoles []utils.Pattern
	hosts           *utils.PatternList
}

// matches reports whether the mapping applies to the user connecting from
// the given host. and_backend_roles requires every pattern to be covered by
// the user's backend roles; the other criteria are alternatives.
func (m *roleMapping) matches(user *User, host string) bool {
	if m.users.MatchesAny(user.Name) {
		return true
	}
	for _, br := range user.BackendRoles {
		if m.backendRoles.MatchesAny(br) {
			return true
		}
	}
	if len(m.andBackendRoles) > 0 && m.matchesAllBackendRoles(user.BackendRoles) {
		return true
	}
	if host != "" && m.hosts.MatchesAny(host) {
		return true
	}
	return false
}

// matchesAllBackendRoles reports whether every and_backend_roles pattern is
// covered by at least one of the user's backend roles.
func (m *roleMapping) matchesAllBackendRoles(backendRoles []string) bool {
	for _, p := range m.andBackendRoles {
		found := false
		for _, br := range backendRoles {
			if p.Matches(br) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RoleMappings resolves a user to the set of role names mapped to them.
type RoleMappings struct {
	mappings []*roleMapping
}

// ParseRoleMappings compiles all mapping documents, collecting every issue.
func ParseRoleMappings(docs map[string]*RoleMappingDocument) (*RoleMappings, error) {
	verr := &ValidationError{}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	rm := &RoleMappings{}
	for _, name := range names {
		doc := docs[name]
		m := &roleMapping{roleName: name}
		var err error
		compile := func(attr string, exprs []string) *utils.PatternList {
			for i, e := range exprs {
				if e == "" {
					verr.Addf(fmt.Sprintf("%s.%s[%d]", name, attr, i), "empty pattern")
				}
			}
			var l *utils.PatternList
			l, err = utils.CompileList(exprs)
			if err != nil {
				verr.Add(name+"."+attr, err.Error())
				return utils.MustCompileList(nil)
			}
			return l
		}
		m.users = compile("users", doc.Users)
		m.backendRoles = compile("backend_roles", doc.BackendRoles)
		m.hosts = compile("hosts", doc.Hosts)
		for i, expr := range doc.AndBackendRoles {
			if expr == "" {
				verr.Addf(fmt.Sprintf("%s.and_backend_roles[%d]", name, i), "empty pattern")
				continue
			}
			p, perr := utils.CompilePattern(expr)
			if perr != nil {
				verr.Add(fmt.Sprintf("%s.and_backend_roles[%d]", name, i), perr.Error())
				continue
			}
			m.andBackendRoles = append(m.andBackendRoles, p)
		}
		rm.mappings = append(rm.mappings, m)
	}
	if verr.HasIssues() {
		return nil, verr
	}
	return rm, nil
}

// MappedRoles returns the names of every role mapped to the user. The result
// is a fresh set the caller may extend with directly assigned roles.
func (r *RoleMappings) MappedRoles(user *User, host string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range r.mappings {
		if m.matches(user, host) {
			out[m.roleName] = true
		}
	}
	return out
}
