package searchauthz

import "testing"

func parseTestRoles(t *testing.T, docs map[string]*RoleDocument) []*Role {
	t.Helper()
	repo, err := ParseRoles(docs)
	if err != nil {
		t.Fatalf("parse roles: %v", err)
	}
	return repo.Select(allRoles(docs))
}

func TestBuildDlsFlsConfig(t *testing.T) {
	roles := parseTestRoles(t, map[string]*RoleDocument{
		"restricted": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
			DLS:            `{"term":{"owner":"${user.name}"}}`,
			FLS:            []string{"message", "timestamp"},
			MaskedFields:   []string{"client_ip"},
		}}},
	})
	user := &User{Name: "jdoe"}

	cfg := BuildDlsFlsConfig(user, roles, []string{"logs-1", "metrics-1"})
	if len(cfg.Errors()) != 0 {
		t.Fatalf("unexpected errors: %v", cfg.Errors())
	}
	r := cfg.RestrictionsFor("logs-1")
	if r == nil {
		t.Fatalf("expected restrictions for logs-1")
	}
	if len(r.DLSQueries) != 1 || r.DLSQueries[0] != `{"term":{"owner":"jdoe"}}` {
		t.Fatalf("DLS template must render the user name: %v", r.DLSQueries)
	}
	if len(r.FLS) != 2 || len(r.MaskedFields) != 1 {
		t.Fatalf("unexpected field restrictions: %+v", r)
	}
	if cfg.RestrictionsFor("metrics-1") != nil {
		t.Fatalf("non-matching index must be unrestricted")
	}
}

func TestUnrestrictedGrantLiftsRestrictions(t *testing.T) {
	// Permissions are additive: one role limiting documents and another
	// granting the index without DLS means full access.
	roles := parseTestRoles(t, map[string]*RoleDocument{
		"restricted": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
			DLS:            `{"term":{"visibility":"public"}}`,
		}}},
		"full": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
		}}},
	})
	cfg := BuildDlsFlsConfig(&User{Name: "jdoe"}, roles, []string{"logs-1"})
	if cfg.HasRestrictions() {
		t.Fatalf("unrestricted grant must lift DLS, got %v", cfg.RestrictedIndices())
	}
}

func TestDlsTemplateErrorIsRecorded(t *testing.T) {
	roles := parseTestRoles(t, map[string]*RoleDocument{
		"restricted": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
			DLS:            `{"term":{"dept":"${attr.dept}"}}`,
		}}},
	})
	cfg := BuildDlsFlsConfig(&User{Name: "jdoe"}, roles, []string{"logs-1"})
	if len(cfg.Errors()) == 0 {
		t.Fatalf("expected a template error")
	}
	// The failing grant contributed no query; nothing was widened.
	if r := cfg.RestrictionsFor("logs-1"); r != nil && len(r.DLSQueries) != 0 {
		t.Fatalf("failed template must not contribute a query: %v", r.DLSQueries)
	}
}

func TestWithoutDls(t *testing.T) {
	roles := parseTestRoles(t, map[string]*RoleDocument{
		"restricted": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
			DLS:            `{"match_all":{}}`,
			FLS:            []string{"message"},
		}}},
	})
	cfg := BuildDlsFlsConfig(&User{Name: "jdoe"}, roles, []string{"logs-1"})
	stripped := cfg.WithoutDls()
	r := stripped.RestrictionsFor("logs-1")
	if r == nil {
		t.Fatalf("field restrictions must survive")
	}
	if len(r.DLSQueries) != 0 {
		t.Fatalf("document restrictions must be dropped: %v", r.DLSQueries)
	}
	if len(r.FLS) != 1 {
		t.Fatalf("unexpected field restrictions: %v", r.FLS)
	}
}

func TestFilterTo(t *testing.T) {
	roles := parseTestRoles(t, map[string]*RoleDocument{
		"restricted": {IndexPermissions: []IndexPermissionDocument{{
			IndexPatterns:  []string{"logs-*"},
			AllowedActions: []string{"indices:data/read/*"},
			DLS:            `{"match_all":{}}`,
		}}},
	})
	cfg := BuildDlsFlsConfig(&User{Name: "jdoe"}, roles, []string{"logs-1", "logs-2"})
	filtered := cfg.FilterTo([]string{"logs-2"})
	if filtered.RestrictionsFor("logs-1") != nil {
		t.Fatalf("filtered config must drop logs-1")
	}
	if filtered.RestrictionsFor("logs-2") == nil {
		t.Fatalf("filtered config must keep logs-2")
	}
}
