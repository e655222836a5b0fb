package searchauthz

import (
	"sort"
	"strings"

	"github.com/oarkflow/searchauthz/utils"
)

// ============================================================================
// INDEX RESOLUTION
// ============================================================================

// IndicesOptions mirrors the expansion flags a request carries alongside its
// index expressions.
type IndicesOptions struct {
	IgnoreUnavailable bool
	AllowNoIndices    bool
	ExpandOpen        bool
	ExpandClosed      bool
}

// DefaultIndicesOptions is used when a request carries no explicit options.
var DefaultIndicesOptions = IndicesOptions{
	AllowNoIndices: true,
	ExpandOpen:     true,
}

// ClusterMetadataResolver answers which concrete indices exist. The engine
// consults it to expand wildcard expressions; the caller keeps it current as
// cluster topology changes.
type ClusterMetadataResolver interface {
	// IndexNames returns all concrete local index names.
	IndexNames() []string
	// ResolveAlias returns the member indices of an alias, or nil when the
	// name is not an alias.
	ResolveAlias(name string) []string
}

// ResolvedIndices is the outcome of resolving a request's index expressions.
// LocalAll is set only when the request addressed all local indices
// wholesale, by "*", "_all", or an empty expression list. A wildcard that
// merely happens to expand to every index does not set it.
type ResolvedIndices struct {
	LocalIndices  []string
	RemoteIndices []string
	Unresolved    []string
	LocalAll      bool
}

// IsEmpty reports whether resolution found no local targets and the request
// does not address everything.
func (r *ResolvedIndices) IsEmpty() bool {
	return !r.LocalAll && len(r.LocalIndices) == 0 && len(r.Unresolved) == 0
}

// EffectiveLocalIndices returns the concrete local targets a permission check
// must cover. Unresolved names are included so a typo never widens access.
func (r *ResolvedIndices) EffectiveLocalIndices() []string {
	out := make([]string, 0, len(r.LocalIndices)+len(r.Unresolved))
	out = append(out, r.LocalIndices...)
	out = append(out, r.Unresolved...)
	sort.Strings(out)
	return out
}

func (r *ResolvedIndices) String() string {
	var parts []string
	if r.LocalAll {
		parts = append(parts, "local:_all")
	} else if len(r.LocalIndices) > 0 {
		parts = append(parts, "local:"+strings.Join(r.LocalIndices, ","))
	}
	if len(r.RemoteIndices) > 0 {
		parts = append(parts, "remote:"+strings.Join(r.RemoteIndices, ","))
	}
	if len(r.Unresolved) > 0 {
		parts = append(parts, "unresolved:"+strings.Join(r.Unresolved, ","))
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, " ")
}

// isLocalAllExpression reports whether the expression list addresses all
// local indices wholesale.
func isLocalAllExpression(expressions []string) bool {
	if len(expressions) == 0 {
		return true
	}
	for _, e := range expressions {
		if e == "*" || e == "_all" {
			return true
		}
	}
	return false
}

// ResolveIndexExpressions expands index expressions against the current
// cluster metadata. Remote expressions (containing a cluster separator) are
// split off untouched; local wildcards expand against existing indices and
// aliases; concrete names that do not exist are reported as unresolved.
func ResolveIndexExpressions(expressions []string, opts IndicesOptions, meta ClusterMetadataResolver) *ResolvedIndices {
	res := &ResolvedIndices{}
	if isLocalAllExpression(expressions) {
		res.LocalAll = true
		res.LocalIndices = append([]string(nil), meta.IndexNames()...)
		sort.Strings(res.LocalIndices)
		return res
	}

	localSet := make(map[string]bool)
	existing := meta.IndexNames()

	for _, expr := range expressions {
		if strings.Contains(expr, ":") {
			res.RemoteIndices = append(res.RemoteIndices, expr)
			continue
		}
		if strings.ContainsAny(expr, "*?") {
			p, err := utils.CompilePattern(expr)
			if err != nil {
				res.Unresolved = append(res.Unresolved, expr)
				continue
			}
			for _, name := range existing {
				if p.Matches(name) {
					localSet[name] = true
				}
			}
			continue
		}
		if members := meta.ResolveAlias(expr); members != nil {
			for _, m := range members {
				localSet[m] = true
			}
			continue
		}
		found := false
		for _, name := range existing {
			if name == expr {
				found = true
				break
			}
		}
		if found {
			localSet[expr] = true
		} else if !opts.IgnoreUnavailable {
			res.Unresolved = append(res.Unresolved, expr)
		}
	}

	for name := range localSet {
		res.LocalIndices = append(res.LocalIndices, name)
	}
	sort.Strings(res.LocalIndices)
	sort.Strings(res.Unresolved)
	return res
}

// ============================================================================
// REQUEST INTROSPECTION
// ============================================================================

// SnapshotRestoreRequest is implemented by snapshot restore requests so the
// restore rules can be applied without knowing the host's request type.
type SnapshotRestoreRequest interface {
	RestoreIndices() []string
	IncludesGlobalState() bool
}

// RequestIntrospector adapts the engine to the host's request types. The
// engine itself never inspects request payloads; all knowledge about which
// indices a request addresses, and how to shrink it, lives behind this
// interface.
type RequestIntrospector interface {
	// ResolveTargets extracts the index expressions and options of a
	// request. ok is false when the request type is unknown to the
	// introspector; unknown requests are treated conservatively.
	ResolveTargets(request any, action string) (expressions []string, opts IndicesOptions, ok bool)

	// Reduce rewrites the request in place to address only the given
	// indices. It reports whether the request type supports reduction.
	Reduce(request any, action string, indices []string) bool

	// ForceEmptyResult rewrites the request so it executes but returns no
	// data, used when a partial reduction came out empty but the request
	// must still succeed. It reports whether the request type supports it.
	ForceEmptyResult(request any, action string) bool
}
