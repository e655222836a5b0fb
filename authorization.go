package searchauthz

import (
	"strings"

	"github.com/oarkflow/searchauthz/logger"
	"github.com/oarkflow/searchauthz/utils"
)

// ============================================================================
// ROLE BASED AUTHORIZATION
// ============================================================================

// RoleBasedAuthorization answers privilege questions for a user's mapped
// roles. Permissions are additive across roles; exclusions subtract from the
// combined result regardless of which role contributed the grant.
type RoleBasedAuthorization struct {
	roles   *RoleRepository
	catalog *ActionCatalog
	log     logger.Logger
}

func NewRoleBasedAuthorization(roles *RoleRepository, catalog *ActionCatalog, log logger.Logger) *RoleBasedAuthorization {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RoleBasedAuthorization{roles: roles, catalog: catalog, log: log}
}

// HasClusterPermission checks a cluster-scoped action against the mapped
// roles. A single role granting it suffices; each role's own exclusions
// defeat only that role's grants.
func (a *RoleBasedAuthorization) HasClusterPermission(user *User, mappedRoles map[string]bool, action string) *PrivilegesEvaluationResult {
	for _, role := range a.roles.Select(mappedRoles) {
		if role.ImpliesClusterPermission(action) {
			a.log.Debug("cluster permission granted", "user", user.Name, "role", role.Name, "action", action)
			return ResultOK()
		}
	}
	return ResultInsufficient("no mapped role grants cluster permission").WithMissingPrivileges(action)
}

// HasTenantPermission checks tenant access at the requested level against
// the mapped roles. Tenant grants carry independent read and write flags;
// write implies read.
func (a *RoleBasedAuthorization) HasTenantPermission(user *User, mappedRoles map[string]bool, tenant string, write bool) *PrivilegesEvaluationResult {
	for _, role := range a.roles.Select(mappedRoles) {
		if role.ImpliesTenantPermission(tenant, write) {
			return ResultOK()
		}
	}
	level := "read"
	if write {
		level = "write"
	}
	return ResultInsufficient("no mapped role grants tenant " + level + " permission")
}

// HasIndexPermission checks the required actions against every concrete
// index the request resolved to. The verdict is OK when every index carries
// every action, PARTIALLY_OK when at least one index does, INSUFFICIENT
// otherwise.
//
// A request addressing all local indices wholesale is only granted in full
// when a role carries a literal "*" index pattern for each action; a set of
// narrower patterns that happens to cover every existing index does not
// qualify, since a newly created index would silently fall outside it.
func (a *RoleBasedAuthorization) HasIndexPermission(user *User, mappedRoles map[string]bool, actions []string, resolved *ResolvedIndices) *PrivilegesEvaluationResult {
	roles := a.roles.Select(mappedRoles)

	if resolved.LocalAll {
		if res := a.checkWildcardGrant(user, roles, actions); res != nil {
			return res
		}
	}

	indices := resolved.EffectiveLocalIndices()
	if len(indices) == 0 {
		if resolved.LocalAll {
			// An all-indices request is a claim on every index, present and
			// future; an empty cluster does not turn it into a no-op.
			return ResultInsufficient(`all-indices request requires a literal "*" index pattern`).
				WithMissingPrivileges(actions...)
		}
		return ResultEmpty("request resolved to no local indices")
	}

	table := NewCheckTable(indices, actions)
	var evalErrors []*EvaluationError

	for _, role := range roles {
		for _, perm := range role.IndexPermissions {
			patterns, err := perm.PatternsFor(user)
			if err != nil {
				evalErrors = append(evalErrors, &EvaluationError{
					Message: "could not render index patterns of role " + role.Name,
					Cause:   err,
				})
				continue
			}
			for _, action := range actions {
				if !perm.AllowsAction(action) {
					continue
				}
				for _, idx := range indices {
					if patterns.MatchesAny(idx) {
						table.Check(idx, action)
					}
				}
			}
		}
	}

	// Exclusions apply across role boundaries: a grant from one role is
	// defeated by an exclusion from any other mapped role.
	for _, role := range roles {
		for _, excl := range role.ExcludeIndexPermissions {
			patterns, err := excl.PatternsFor(user)
			if err != nil {
				// An exclusion that cannot be rendered must not widen
				// access, so it is treated as matching everything.
				evalErrors = append(evalErrors, &EvaluationError{
					Message: "could not render exclusion patterns of role " + role.Name,
					Cause:   err,
				})
				patterns = utils.MustCompileList([]string{"*"})
			}
			for _, action := range actions {
				if !excl.ExcludesAction(action) {
					continue
				}
				for _, idx := range indices {
					if patterns.MatchesAny(idx) {
						table.Uncheck(idx, action)
					}
				}
			}
		}
	}

	result := a.tableVerdict(table, actions)
	if resolved.LocalAll && result.Status == StatusOK {
		// Covering every index that exists right now is not the same as
		// holding a "*" grant; an index created tomorrow would fall outside
		// the patterns. The request may still be reduced to the concrete
		// index list, but it is not granted wholesale.
		result = &PrivilegesEvaluationResult{
			Status:     StatusPartiallyOK,
			Reason:     "all-indices request requires a literal \"*\" index pattern",
			CheckTable: table,
		}
	}
	for _, e := range evalErrors {
		result = result.WithError(e)
	}
	return result
}

// checkWildcardGrant tries to satisfy a wholesale all-indices request from
// literal "*" grants. Returns nil when that is not possible, in which case
// the caller falls back to per-index evaluation.
func (a *RoleBasedAuthorization) checkWildcardGrant(user *User, roles []*Role, actions []string) *PrivilegesEvaluationResult {
	for _, action := range actions {
		granted := false
		for _, role := range roles {
			for _, perm := range role.IndexPermissions {
				if perm.GrantsMatchAll() && perm.AllowsAction(action) {
					granted = true
					break
				}
			}
			if granted {
				break
			}
		}
		if !granted {
			return nil
		}
	}
	// Any exclusion covering one of the actions carves indices out of the
	// wholesale grant, so the request is no longer satisfiable as a whole.
	for _, role := range roles {
		for _, excl := range role.ExcludeIndexPermissions {
			for _, action := range actions {
				if excl.ExcludesAction(action) {
					return nil
				}
			}
		}
	}
	a.log.Debug("wholesale index permission granted", "user", user.Name, "actions", strings.Join(actions, ","))
	return ResultOK()
}

func (a *RoleBasedAuthorization) tableVerdict(table *CheckTable, actions []string) *PrivilegesEvaluationResult {
	switch {
	case table.IsComplete():
		return ResultOK().WithCheckTable(table)
	case table.IsBlank():
		return ResultInsufficient("no mapped role grants the required index permissions").
			WithCheckTable(table).
			WithMissingPrivileges(actions...)
	default:
		return (&PrivilegesEvaluationResult{
			Status: StatusPartiallyOK,
			Reason: "index permissions cover a subset of the requested indices",
		}).WithCheckTable(table)
	}
}
