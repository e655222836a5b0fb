package searchauthz

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/searchauthz/logger"
)

func testRawConfig() *RawConfig {
	return &RawConfig{
		Roles: map[string]*RoleDocument{
			"log-reader": {
				ClusterPermissions: []string{"cluster:monitor/*"},
				IndexPermissions: []IndexPermissionDocument{{
					IndexPatterns:  []string{"logs-*"},
					AllowedActions: []string{"indices:data/read/*"},
				}},
			},
		},
		RoleMappings: map[string]*RoleMappingDocument{
			"log-reader": {Users: []string{"jdoe"}, BackendRoles: []string{"log-team"}},
		},
		Tenants: map[string]*TenantDocument{
			"marketing": {},
		},
		ProtectedIndices: []string{".security*"},
	}
}

func newTestEvaluator(t *testing.T, cfg *RawConfig, meta ClusterMetadataResolver, dnfof bool) *PrivilegesEvaluator {
	t.Helper()
	e, err := NewPrivilegesEvaluator(EvaluatorOptions{
		Logger:               logger.NewNullLogger(),
		Metadata:             meta,
		Introspector:         StandardIntrospector{},
		DoNotFailOnForbidden: dnfof,
		DecisionCacheSize:    -1,
	})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	if cfg != nil {
		if err := e.SetConfig(cfg); err != nil {
			t.Fatalf("set config: %v", err)
		}
	}
	return e
}

func TestEvaluateNotInitialized(t *testing.T) {
	e := newTestEvaluator(t, nil, &fakeMetadata{}, false)
	_, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", NewSearchRequest("logs-1"))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if e.IsInitialized() {
		t.Fatalf("evaluator must not report initialized")
	}
}

func TestEvaluateAdminCertificate(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{indices: []string{"logs-1"}}, false)
	res, err := e.Evaluate(context.Background(), &User{Name: "admin", IsAdminCert: true},
		"cluster:admin:searchguard:config/update", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("admin certificate must pass everything, got %v err %v", res, err)
	}
}

func TestEvaluateAdminOnlyAction(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{indices: []string{"logs-1"}}, false)
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"},
		"cluster:admin:searchguard:config/update", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != StatusInsufficient || res.Reason != "reserved for admin certificate" {
		t.Fatalf("expected INSUFFICIENT reserved for admin certificate, got %v", res)
	}
}

func TestEvaluateOpenAction(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{}, false)
	// No roles at all, still allowed.
	res, err := e.Evaluate(context.Background(), &User{Name: "nobody"},
		"cluster:admin:searchguard:session/_own/delete", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("open action must be allowed, got %v err %v", res, err)
	}
}

func TestEvaluateClusterAction(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{}, false)
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "cluster:monitor/health", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}
	res, err = e.Evaluate(context.Background(), &User{Name: "jdoe"}, "cluster:admin/settings/update", nil)
	if err != nil || res.Status != StatusInsufficient {
		t.Fatalf("expected INSUFFICIENT, got %v err %v", res, err)
	}
	// Backend role mapping works too.
	res, err = e.Evaluate(context.Background(), &User{Name: "other", BackendRoles: []string{"log-team"}}, "cluster:monitor/health", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("backend role mapping must grant, got %v err %v", res, err)
	}
}

func TestEvaluateIndexAction(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1", "metrics-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, false)

	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"},
		"indices:data/read/search", NewSearchRequest("logs-1"))
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}

	res, err = e.Evaluate(context.Background(), &User{Name: "jdoe"},
		"indices:data/read/search", NewSearchRequest("metrics-1"))
	if err != nil || res.Status != StatusInsufficient {
		t.Fatalf("expected INSUFFICIENT, got %v err %v", res, err)
	}
}

func TestEvaluateProtectedIndex(t *testing.T) {
	meta := &fakeMetadata{indices: []string{".security-7"}}
	cfg := testRawConfig()
	cfg.Roles["log-reader"].IndexPermissions[0].IndexPatterns = []string{"*"}
	e := newTestEvaluator(t, cfg, meta, false)

	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"},
		"indices:data/read/search", NewSearchRequest(".security-7"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != StatusInsufficient {
		t.Fatalf("protected index must be denied regardless of roles, got %v", res)
	}
}

func TestEvaluateReducesPartiallyAuthorizedRequest(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1", "metrics-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, true)

	req := NewSearchRequest("logs-1", "metrics-1")
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.IsOK() {
		t.Fatalf("reduced request must be OK, got %v", res)
	}
	if len(req.Indices) != 1 || req.Indices[0] != "logs-1" {
		t.Fatalf("request must be reduced to authorized indices, got %v", req.Indices)
	}

	// Re-evaluating the reduced request grants it directly; reduction is
	// idempotent.
	res, err = e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", req)
	if err != nil || !res.IsOK() {
		t.Fatalf("re-evaluation must stay OK, got %v err %v", res, err)
	}
	if len(req.Indices) != 1 || req.Indices[0] != "logs-1" {
		t.Fatalf("re-evaluation must not change the request, got %v", req.Indices)
	}
}

func TestEvaluateForcesEmptyResult(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"metrics-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, true)

	req := NewSearchRequest("metrics-1")
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.IsOK() {
		t.Fatalf("forced empty request must be OK, got %v", res)
	}
	if !req.MatchNone || len(req.Indices) != 0 {
		t.Fatalf("request must be rewritten to return nothing, got %+v", req)
	}
}

func TestEvaluateWithoutDnfofDeniesPartial(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1", "metrics-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, false)

	req := NewSearchRequest("logs-1", "metrics-1")
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != StatusPartiallyOK {
		t.Fatalf("expected PARTIALLY_OK verdict, got %v", res)
	}
	if len(req.Indices) != 2 {
		t.Fatalf("request must stay unmodified without reduction, got %v", req.Indices)
	}
}

func TestSetConfigRejectsInvalidAndKeepsOld(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, false)

	bad := &RawConfig{Roles: map[string]*RoleDocument{
		"broken": {IndexPermissions: []IndexPermissionDocument{{}}},
	}}
	if err := e.SetConfig(bad); err == nil {
		t.Fatalf("expected validation error")
	}

	// The previous generation stays active.
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "cluster:monitor/health", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("old config must stay active, got %v err %v", res, err)
	}
}

func TestConfigSwapChangesDecisions(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, false)
	user := &User{Name: "jdoe"}

	res, _ := e.Evaluate(context.Background(), user, "cluster:monitor/health", nil)
	if !res.IsOK() {
		t.Fatalf("expected OK before swap")
	}

	next := testRawConfig()
	next.Roles["log-reader"].ClusterPermissions = nil
	if err := e.SetConfig(next); err != nil {
		t.Fatalf("set config: %v", err)
	}

	res, _ = e.Evaluate(context.Background(), user, "cluster:monitor/health", nil)
	if res.Status != StatusInsufficient {
		t.Fatalf("swapped config must apply, got %v", res)
	}
}

func TestGetMappedRoles(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{}, false)
	roles, err := e.GetMappedRoles(&User{Name: "jdoe"}, "")
	if err != nil {
		t.Fatalf("mapped roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != "log-reader" {
		t.Fatalf("unexpected mapped roles: %v", roles)
	}
}

func TestAllConfiguredTenantNames(t *testing.T) {
	e := newTestEvaluator(t, testRawConfig(), &fakeMetadata{}, false)
	names := e.AllConfiguredTenantNames()
	if len(names) != 1 || names[0] != "marketing" {
		t.Fatalf("unexpected tenant names: %v", names)
	}
}

func TestEvaluateRestoreRules(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1"}}
	cfg := testRawConfig()
	cfg.Roles["restorer"] = &RoleDocument{
		ClusterPermissions: []string{"cluster:admin/snapshot/*"},
		IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:admin/create", "indices:data/write/*"},
		}},
	}
	cfg.RoleMappings["restorer"] = &RoleMappingDocument{Users: []string{"ops"}}
	e := newTestEvaluator(t, cfg, meta, false)
	user := &User{Name: "ops"}
	ctx := context.Background()

	req := &RestoreRequest{Snapshot: "snap-1", Indices: []string{"logs-1"}}
	res, err := e.Evaluate(ctx, user, "cluster:admin/snapshot/restore", req)
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}

	res, _ = e.Evaluate(ctx, user, "cluster:admin/snapshot/restore",
		&RestoreRequest{Snapshot: "snap-1", IncludeGlobalState: true})
	if res.Status != StatusInsufficient {
		t.Fatalf("global state restore must be denied, got %v", res)
	}

	res, _ = e.Evaluate(ctx, user, "cluster:admin/snapshot/restore",
		&RestoreRequest{Snapshot: "snap-1", Indices: []string{".security-7"}})
	if res.Status != StatusInsufficient {
		t.Fatalf("restore into a protected index must be denied, got %v", res)
	}

	// Write privileges on the targets are required on top of the restore
	// permission itself.
	res, _ = e.Evaluate(ctx, user, "cluster:admin/snapshot/restore",
		&RestoreRequest{Snapshot: "snap-1", Indices: []string{"metrics-1"}})
	if res.Status == StatusOK {
		t.Fatalf("restore without target privileges must be denied, got %v", res)
	}
}

func TestProtectedIndexExceptionRole(t *testing.T) {
	meta := &fakeMetadata{indices: []string{".security-7"}}
	cfg := testRawConfig()
	cfg.Roles["maintenance"] = &RoleDocument{
		IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"*"},
			AllowedActions: []string{"indices:data/read/*"},
		}},
	}
	cfg.RoleMappings["maintenance"] = &RoleMappingDocument{Users: []string{"ops"}}
	cfg.ProtectedIndexExceptionRoles = []string{"maintenance"}
	e := newTestEvaluator(t, cfg, meta, false)

	res, err := e.Evaluate(context.Background(), &User{Name: "ops"},
		"indices:data/read/search", NewSearchRequest(".security-7"))
	if err != nil || !res.IsOK() {
		t.Fatalf("exception role must bypass protection, got %v err %v", res, err)
	}
}

func TestEvaluateRemoteOnlyRequest(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1"}}
	e := newTestEvaluator(t, testRawConfig(), meta, false)

	req := &SearchRequest{Indices: []string{"other:logs-*"}, Options: IndicesOptions{}}
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:data/read/search", req)
	if err != nil || !res.IsOK() {
		t.Fatalf("fully remote request must pass locally, got %v err %v", res, err)
	}
}

func TestEvaluateNonReducibleRequestIsDenied(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1", "metrics-1"}}
	cfg := testRawConfig()
	cfg.Roles["log-reader"].IndexPermissions[0].AllowedActions =
		append(cfg.Roles["log-reader"].IndexPermissions[0].AllowedActions, "indices:admin/aliases")
	e := newTestEvaluator(t, cfg, meta, true)

	// Alias maintenance names its targets explicitly and cannot be shrunk
	// behind the caller's back, so a partial grant stays a denial.
	req := &AliasesRequest{Actions: []AliasAction{
		{Type: "add", IndexName: "logs-1", Alias: "current"},
		{Type: "add", IndexName: "metrics-1", Alias: "current"},
	}}
	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"}, "indices:admin/aliases", req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != StatusInsufficient {
		t.Fatalf("non-reducible partial grant must be INSUFFICIENT, got %v", res)
	}
	if req.Actions[0].IndexName != "logs-1" || req.Actions[1].IndexName != "metrics-1" {
		t.Fatalf("denied request must stay unmodified, got %+v", req.Actions)
	}
}

func TestEvaluateHostMappedRole(t *testing.T) {
	cfg := testRawConfig()
	cfg.RoleMappings["log-reader"].Hosts = []string{"10.0.*"}
	e := newTestEvaluator(t, cfg, &fakeMetadata{}, false)

	res, err := e.Evaluate(context.Background(),
		&User{Name: "remote", RemoteAddress: "10.0.4.2"}, "cluster:monitor/health", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("host mapping must grant via the caller address, got %v err %v", res, err)
	}

	res, err = e.Evaluate(context.Background(),
		&User{Name: "remote"}, "cluster:monitor/health", nil)
	if err != nil || res.Status != StatusInsufficient {
		t.Fatalf("without a caller address the host mapping must not fire, got %v err %v", res, err)
	}
}

func TestEvaluateAttachesDlsFls(t *testing.T) {
	meta := &fakeMetadata{indices: []string{"logs-1"}}
	cfg := testRawConfig()
	cfg.Roles["log-reader"].IndexPermissions[0].DLS = `{"term":{"owner":"${user.name}"}}`
	e := newTestEvaluator(t, cfg, meta, false)

	res, err := e.Evaluate(context.Background(), &User{Name: "jdoe"},
		"indices:data/read/search", NewSearchRequest("logs-1"))
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}
	if res.DlsFls == nil {
		t.Fatalf("granted result must carry the document restrictions")
	}
	r := res.DlsFls.RestrictionsFor("logs-1")
	if r == nil || len(r.DLSQueries) != 1 {
		t.Fatalf("unexpected restrictions for logs-1: %+v", r)
	}
	if r.DLSQueries[0] != `{"term":{"owner":"jdoe"}}` {
		t.Fatalf("DLS query must render user attributes, got %q", r.DLSQueries[0])
	}
}

func TestEvaluateTenantRewriteDropsDls(t *testing.T) {
	cfg := testRawConfig()
	cfg.MultiTenancy = MultiTenancyConfig{
		Enabled:             true,
		FrontendIndex:       ".kibana",
		GlobalTenantEnabled: true,
	}
	cfg.Roles["marketing-writer"] = &RoleDocument{
		TenantPermissions: []TenantPermissionDocument{{
			TenantPatterns: []string{"marketing"},
			Write:          true,
		}},
		IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{".kibana*"},
			AllowedActions: []string{"indices:data/write/*"},
			DLS:            `{"term":{"owner":"${user.name}"}}`,
			FLS:            []string{"title"},
		}},
	}
	cfg.RoleMappings["marketing-writer"] = &RoleMappingDocument{Users: []string{"jdoe"}}
	e := newTestEvaluator(t, cfg, &fakeMetadata{}, false)

	user := &User{Name: "jdoe", RequestedTenant: "marketing"}
	req := &DocumentRequest{IndexName: ".kibana", ID: "dash:1"}
	res, err := e.Evaluate(context.Background(), user, "indices:data/write/index", req)
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}
	if req.IndexName != ".kibana_-933770714_marketing" {
		t.Fatalf("request must target the tenant backing index, got %q", req.IndexName)
	}
	if res.DlsFls == nil {
		t.Fatalf("field restrictions must survive the tenant rewrite")
	}
	r := res.DlsFls.RestrictionsFor(".kibana_-933770714_marketing")
	if r == nil || len(r.FLS) != 1 || r.FLS[0] != "title" {
		t.Fatalf("unexpected field restrictions: %+v", r)
	}
	// Backing index documents are addressed by id, a query filter cannot
	// apply there.
	if len(r.DLSQueries) != 0 {
		t.Fatalf("DLS must be dropped on the tenant backing index, got %v", r.DLSQueries)
	}
}

func TestClusterDenialDoesNotRewriteRequest(t *testing.T) {
	cfg := testRawConfig()
	cfg.MultiTenancy = MultiTenancyConfig{
		Enabled:             true,
		FrontendIndex:       ".kibana",
		GlobalTenantEnabled: true,
	}
	cfg.Roles["marketing-writer"] = &RoleDocument{
		TenantPermissions: []TenantPermissionDocument{{
			TenantPatterns: []string{"marketing"},
			Write:          true,
		}},
	}
	cfg.RoleMappings["marketing-writer"] = &RoleMappingDocument{Users: []string{"jdoe"}}
	e := newTestEvaluator(t, cfg, &fakeMetadata{}, false)

	// Bulk is dispatched at cluster scope. Without the bulk cluster
	// permission the request is denied before interception runs, so its
	// items must keep their original index names.
	user := &User{Name: "jdoe", RequestedTenant: "marketing"}
	req := &BulkRequest{Items: []BulkItem{{IndexName: ".kibana", Operation: "index", ID: "dash:1"}}}
	res, err := e.Evaluate(context.Background(), user, "indices:data/write/bulk", req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != StatusInsufficient {
		t.Fatalf("expected INSUFFICIENT, got %v", res)
	}
	if req.Items[0].IndexName != ".kibana" {
		t.Fatalf("denied request must stay unmodified, got %q", req.Items[0].IndexName)
	}
}

func TestEvaluateTenantScopedAction(t *testing.T) {
	cfg := testRawConfig()
	cfg.Roles["marketing-writer"] = &RoleDocument{
		TenantPermissions: []TenantPermissionDocument{{
			TenantPatterns: []string{"marketing"},
			Write:          true,
		}},
	}
	cfg.RoleMappings["marketing-writer"] = &RoleMappingDocument{Users: []string{"jdoe"}}
	e := newTestEvaluator(t, cfg, &fakeMetadata{}, false)

	user := &User{Name: "jdoe", RequestedTenant: "marketing"}
	res, err := e.Evaluate(context.Background(), user, "cluster:admin:searchguard:tenant:write", nil)
	if err != nil || !res.IsOK() {
		t.Fatalf("expected OK, got %v err %v", res, err)
	}

	user = &User{Name: "other", RequestedTenant: "marketing"}
	res, err = e.Evaluate(context.Background(), user, "cluster:admin:searchguard:tenant:write", nil)
	if err != nil || res.Status != StatusInsufficient {
		t.Fatalf("expected INSUFFICIENT, got %v err %v", res, err)
	}
}
