package searchauthz

import "sort"

// ============================================================================
// DLS / FLS
// ============================================================================

// IndexRestrictions are the document and field restrictions that apply to one
// concrete index for one user. Multiple roles contribute alternatives: a
// document is visible when any DLS query admits it, so queries accumulate.
type IndexRestrictions struct {
	DLSQueries   []string
	FLS          []string
	MaskedFields []string
}

func (r *IndexRestrictions) IsUnrestricted() bool {
	return len(r.DLSQueries) == 0 && len(r.FLS) == 0 && len(r.MaskedFields) == 0
}

// EvaluatedDlsFlsConfig holds the per-index restrictions computed for one
// user and one set of mapped roles. It is built per evaluation because DLS
// queries may contain user attribute templates.
type EvaluatedDlsFlsConfig struct {
	byIndex map[string]*IndexRestrictions
	errors  []*EvaluationError
}

// BuildDlsFlsConfig renders the DLS/FLS rules of the mapped roles for the
// given concrete indices. A role grant whose patterns cover an index
// without any restriction lifts restrictions for that index entirely, since
// permissions are additive.
func BuildDlsFlsConfig(user *User, roles []*Role, indices []string) *EvaluatedDlsFlsConfig {
	cfg := &EvaluatedDlsFlsConfig{byIndex: make(map[string]*IndexRestrictions, len(indices))}
	unrestricted := make(map[string]bool, len(indices))

	for _, role := range roles {
		for _, perm := range role.IndexPermissions {
			patterns, err := perm.PatternsFor(user)
			if err != nil {
				cfg.errors = append(cfg.errors, &EvaluationError{
					Message: "could not render index patterns of role " + role.Name,
					Cause:   err,
				})
				continue
			}
			for _, idx := range indices {
				if !patterns.MatchesAny(idx) {
					continue
				}
				if !perm.HasDlsFls() {
					unrestricted[idx] = true
					continue
				}
				r := cfg.byIndex[idx]
				if r == nil {
					r = &IndexRestrictions{}
					cfg.byIndex[idx] = r
				}
				if perm.DLS != "" {
					rendered, err := renderTemplate(perm.DLS, user)
					if err != nil {
						cfg.errors = append(cfg.errors, &EvaluationError{
							Message: "could not render DLS query of role " + role.Name + " for index " + idx,
							Cause:   err,
						})
						continue
					}
					r.DLSQueries = append(r.DLSQueries, rendered)
				}
				r.FLS = append(r.FLS, perm.FLS...)
				r.MaskedFields = append(r.MaskedFields, perm.MaskedFields...)
			}
		}
	}

	for idx := range unrestricted {
		delete(cfg.byIndex, idx)
	}
	return cfg
}

// RestrictionsFor returns the restrictions of one index, or nil when the
// index is unrestricted for this user.
func (c *EvaluatedDlsFlsConfig) RestrictionsFor(index string) *IndexRestrictions {
	return c.byIndex[index]
}

// RestrictedIndices returns the sorted indices carrying restrictions.
func (c *EvaluatedDlsFlsConfig) RestrictedIndices() []string {
	out := make([]string, 0, len(c.byIndex))
	for idx := range c.byIndex {
		out = append(out, idx)
	}
	sort.Strings(out)
	return out
}

// HasRestrictions reports whether any index carries restrictions.
func (c *EvaluatedDlsFlsConfig) HasRestrictions() bool { return len(c.byIndex) > 0 }

// Errors returns the template failures hit while building the config. A
// failed DLS render means the affected grant contributed no query, which
// narrows rather than widens access.
func (c *EvaluatedDlsFlsConfig) Errors() []*EvaluationError { return c.errors }

// WithoutDls returns a copy with document-level restrictions dropped,
// keeping field restrictions. Used where documents are addressed by id and a
// query filter cannot apply.
func (c *EvaluatedDlsFlsConfig) WithoutDls() *EvaluatedDlsFlsConfig {
	out := &EvaluatedDlsFlsConfig{byIndex: make(map[string]*IndexRestrictions, len(c.byIndex)), errors: c.errors}
	for idx, r := range c.byIndex {
		if len(r.FLS) == 0 && len(r.MaskedFields) == 0 {
			continue
		}
		out.byIndex[idx] = &IndexRestrictions{FLS: r.FLS, MaskedFields: r.MaskedFields}
	}
	return out
}

// FilterTo returns a config restricted to the given indices.
func (c *EvaluatedDlsFlsConfig) FilterTo(indices []string) *EvaluatedDlsFlsConfig {
	out := &EvaluatedDlsFlsConfig{byIndex: make(map[string]*IndexRestrictions), errors: c.errors}
	for _, idx := range indices {
		if r, ok := c.byIndex[idx]; ok {
			out.byIndex[idx] = r
		}
	}
	return out
}
