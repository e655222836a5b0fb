package searchauthz

import "strings"

// ============================================================================
// ACTION MODEL
// ============================================================================

// ActionKind partitions the action namespace. Tenant actions are checked
// against tenant permissions, cluster actions against cluster permissions,
// and index actions against index permissions per concrete index.
type ActionKind int

const (
	KindIndex ActionKind = iota
	KindCluster
	KindTenant
)

func (k ActionKind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindCluster:
		return "cluster"
	case KindTenant:
		return "tenant"
	default:
		return "unknown"
	}
}

// Action is an immutable descriptor for one action identifier. Requires lists
// additional privileges that must be granted alongside the action itself.
type Action struct {
	Name     string
	Kind     ActionKind
	Open     bool
	Requires []string
}

// IsClusterAction reports whether the action is evaluated at cluster scope.
func (a Action) IsClusterAction() bool { return a.Kind == KindCluster }

// IsIndexAction reports whether the action is evaluated per index.
func (a Action) IsIndexAction() bool { return a.Kind == KindIndex }

// IsTenantAction reports whether the action addresses a frontend tenant.
func (a Action) IsTenantAction() bool { return a.Kind == KindTenant }

// IsOpen reports whether the action is granted to any authenticated user.
func (a Action) IsOpen() bool { return a.Open }

const tenantActionPrefix = "cluster:admin:searchguard:tenant:"

// Index action names that are classified as cluster actions because they are
// dispatched once per request, not per shard.
var clusterScopedIndexActions = map[string]bool{
	"indices:data/write/bulk":    true,
	"indices:data/read/mget":     true,
	"indices:data/read/msearch":  true,
	"indices:data/read/mtv":      true,
	"indices:data/write/reindex": true,
}

var clusterScopedIndexPrefixes = []string{
	"indices:admin/template/",
	"indices:admin/index_template/",
	"indices:data/read/scroll",
}

// classifyAction assigns a kind from the name alone. The tenant prefix wins
// over the generic cluster: prefix, so tenant actions must be tested first.
func classifyAction(name string) ActionKind {
	if strings.HasPrefix(name, tenantActionPrefix) {
		return KindTenant
	}
	if strings.HasPrefix(name, "cluster:") {
		return KindCluster
	}
	if clusterScopedIndexActions[name] {
		return KindCluster
	}
	for _, p := range clusterScopedIndexPrefixes {
		if strings.HasPrefix(name, p) {
			return KindCluster
		}
	}
	return KindIndex
}

// Actions every authenticated user may perform regardless of roles.
var openActions = map[string]bool{
	"cluster:admin:searchguard:session/_own/delete": true,
	"cluster:admin:searchguard:authinfo":            true,
	"cluster:admin:searchguard:license/info":        true,
}

// Actions reserved for the admin certificate. Evaluation stops immediately
// for regular users.
var adminOnlyActions = map[string]bool{
	"cluster:admin:searchguard:config/update":         true,
	"cluster:admin:searchguard:internal_users/update": true,
	"cluster:admin/searchguard/config/update":         true,
}

// Resize-family actions implicitly require the create privilege on the
// target, since they materialize a new index.
var additionalPrivileges = map[string][]string{
	"indices:admin/resize": {"indices:admin/create"},
	"indices:admin/shrink": {"indices:admin/create"},
	"indices:admin/split":  {"indices:admin/create"},
	"indices:admin/clone":  {"indices:admin/create"},
}

// ActionCatalog resolves action names to descriptors. Get is total: names
// never registered are classified on the fly so unknown actions from newer
// cluster versions still evaluate under the correct scope.
type ActionCatalog struct {
	actions map[string]Action
}

func NewActionCatalog() *ActionCatalog {
	c := &ActionCatalog{actions: make(map[string]Action)}
	for name := range openActions {
		c.register(Action{Name: name, Kind: classifyAction(name), Open: true})
	}
	for name, req := range additionalPrivileges {
		c.register(Action{Name: name, Kind: classifyAction(name), Requires: req})
	}
	return c
}

func (c *ActionCatalog) register(a Action) { c.actions[a.Name] = a }

// Get returns the descriptor for the named action, classifying unknown names
// by their shape.
func (c *ActionCatalog) Get(name string) Action {
	if a, ok := c.actions[name]; ok {
		return a
	}
	return Action{Name: name, Kind: classifyAction(name), Requires: additionalPrivileges[name]}
}

// IsAdminOnly reports whether the action is reserved for the admin
// certificate.
func (c *ActionCatalog) IsAdminOnly(name string) bool { return adminOnlyActions[name] }

// ExpandRequired returns the action name plus every additional privilege it
// pulls in.
func (c *ActionCatalog) ExpandRequired(name string) []string {
	a := c.Get(name)
	if len(a.Requires) == 0 {
		return []string{name}
	}
	out := make([]string, 0, 1+len(a.Requires))
	out = append(out, name)
	out = append(out, a.Requires...)
	return out
}
