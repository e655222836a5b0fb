package utils

import "testing"

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern   string
		candidate string
		want      bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"logs-*", "logs-2024", true},
		{"logs-*", "logs-", true},
		{"logs-*", "metrics-2024", false},
		{"a*b", "ab", true},
		{"a*b", "axxb", true},
		{"a*b", "axxbc", false},
		{"a*b", "b", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "ac", false},
		{"?", "x", true},
		{"?", "", false},
		{"?", "xy", false},
		{"log?", "logs", true},
		{"log?", "log", false},
		{"indices:data/read/*", "indices:data/read/search", true},
		{"indices:data/read/*", "indices:data/write/index", false},
		{"exact", "exact", true},
		{"exact", "exac", false},
	}
	for _, c := range cases {
		if got := Matches(c.pattern, c.candidate); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestMatchAnyAndMatchAll(t *testing.T) {
	patterns := []string{"logs-*", "metrics"}
	if !MatchAny(patterns, "logs-1") || MatchAny(patterns, "other") {
		t.Fatalf("MatchAny misbehaves")
	}
	if !MatchAll(patterns, []string{"logs-1", "metrics"}) {
		t.Fatalf("expected full coverage")
	}
	if MatchAll(patterns, []string{"logs-1", "other"}) {
		t.Fatalf("uncovered candidate must fail MatchAll")
	}
	if !MatchAll(patterns, nil) {
		t.Fatalf("empty candidate set is trivially covered")
	}
	got := RetainMatching([]string{"logs-1", "other", "metrics"}, patterns)
	if len(got) != 2 || got[0] != "logs-1" || got[1] != "metrics" {
		t.Fatalf("unexpected RetainMatching result: %v", got)
	}
}

func TestCompilePatternRegex(t *testing.T) {
	p, err := CompilePattern("/logs-[0-9]+/")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.Matches("logs-2024") {
		t.Fatalf("expected regex pattern to match logs-2024")
	}
	if p.Matches("logs-abc") {
		t.Fatalf("expected regex pattern not to match logs-abc")
	}
	if p.Matches("xlogs-2024x") {
		t.Fatalf("regex patterns must be anchored")
	}
}

func TestCompilePatternInvalidRegex(t *testing.T) {
	if _, err := CompilePattern("/[/"); err == nil {
		t.Fatalf("expected error for invalid regex")
	}
}

func TestPatternListMatchesAny(t *testing.T) {
	l, err := CompileList([]string{"logs-*", "metrics", "/trace-[0-9]+/"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, c := range []struct {
		candidate string
		want      bool
	}{
		{"logs-2024", true},
		{"metrics", true},
		{"trace-7", true},
		{"trace-x", false},
		{"other", false},
	} {
		if got := l.MatchesAny(c.candidate); got != c.want {
			t.Errorf("MatchesAny(%q) = %v, want %v", c.candidate, got, c.want)
		}
	}
}

func TestPatternListContainsMatchAll(t *testing.T) {
	all, _ := CompileList([]string{"*"})
	if !all.ContainsMatchAll() {
		t.Fatalf("literal * must be reported")
	}
	// A pattern covering everything in practice is still not the literal *.
	broad, _ := CompileList([]string{"a*", "b*", "*x*"})
	if broad.ContainsMatchAll() {
		t.Fatalf("non-literal patterns must not count as match-all")
	}
}

func TestPatternListRetain(t *testing.T) {
	l := MustCompileList([]string{"logs-*"})
	got := l.Retain([]string{"logs-1", "metrics-1", "logs-2"})
	if len(got) != 2 || got[0] != "logs-1" || got[1] != "logs-2" {
		t.Fatalf("unexpected retain result: %v", got)
	}
}

func TestPatternListEmpty(t *testing.T) {
	l := MustCompileList(nil)
	if !l.IsEmpty() {
		t.Fatalf("expected empty list")
	}
	if l.MatchesAny("anything") {
		t.Fatalf("empty list must match nothing")
	}
	if !l.MatchesAll(nil) {
		t.Fatalf("empty candidate set is trivially covered")
	}
}

func BenchmarkPatternListMatchesAny(b *testing.B) {
	l := MustCompileList([]string{"logs-*", "metrics-*", "app-?-data", "exact-index", "/trace-[0-9]+/"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.MatchesAny("logs-2024-09-01")
	}
}
