package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled matching expression. Two kinds exist: glob patterns
// supporting '*' (any run of characters) and '?' (any single character), and
// regex patterns written as "/expr/". The kinds are never mixed silently; a
// glob '*' inside a regex pattern is a regex star, nothing else.
type Pattern interface {
	Matches(candidate string) bool
	String() string
}

type constantPattern string

func (p constantPattern) Matches(candidate string) bool { return string(p) == candidate }
func (p constantPattern) String() string                { return string(p) }

type wildcardPattern string

func (p wildcardPattern) Matches(candidate string) bool { return globMatch(string(p), candidate) }
func (p wildcardPattern) String() string                { return string(p) }

type matchAllPattern struct{}

func (matchAllPattern) Matches(string) bool { return true }
func (matchAllPattern) String() string      { return "*" }

type regexPattern struct {
	source string
	re     *regexp.Regexp
}

func (p *regexPattern) Matches(candidate string) bool { return p.re.MatchString(candidate) }
func (p *regexPattern) String() string                { return p.source }

// CompilePattern parses a single pattern expression. Expressions wrapped in
// slashes ("/logs-[0-9]+/") compile as anchored regular expressions; all other
// expressions are globs. Compilation of a glob never fails.
func CompilePattern(expr string) (Pattern, error) {
	if expr == "*" {
		return matchAllPattern{}, nil
	}
	if len(expr) > 1 && strings.HasPrefix(expr, "/") && strings.HasSuffix(expr, "/") {
		re, err := regexp.Compile("^" + expr[1:len(expr)-1] + "$")
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", expr, err)
		}
		return &regexPattern{source: expr, re: re}, nil
	}
	if strings.ContainsAny(expr, "*?") {
		return wildcardPattern(expr), nil
	}
	return constantPattern(expr), nil
}

// Matches reports whether candidate matches the glob pattern. Convenience
// entry point for single ad-hoc checks; hot paths should compile a
// PatternList once.
func Matches(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	return globMatch(pattern, candidate)
}

// MatchAny reports whether any of the glob patterns matches candidate.
func MatchAny(patterns []string, candidate string) bool {
	for _, p := range patterns {
		if Matches(p, candidate) {
			return true
		}
	}
	return false
}

// MatchAll reports whether every candidate is matched by at least one pattern.
// True for an empty candidate set.
func MatchAll(patterns []string, candidates []string) bool {
	for _, c := range candidates {
		if !MatchAny(patterns, c) {
			return false
		}
	}
	return true
}

// RetainMatching returns the subset of candidates matched by at least one
// pattern, preserving candidate order.
func RetainMatching(candidates []string, patterns []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if MatchAny(patterns, c) {
			out = append(out, c)
		}
	}
	return out
}

// globMatch matches candidate against a glob with '*' and '?'. Iterative
// two-pointer scan with single-star backtracking; case-sensitive.
func globMatch(pattern, candidate string) bool {
	pi, ci := 0, 0
	star, mark := -1, 0
	for ci < len(candidate) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == candidate[ci]):
			pi++
			ci++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = ci
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ci = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// PatternList is a compiled set of patterns matched as a unit. Roles commonly
// hold hundreds of index patterns evaluated against dozens of concrete names
// per request, so exact (metacharacter-free) patterns are bucketed into a map
// and only genuine wildcard/regex patterns are scanned.
type PatternList struct {
	sources  []string
	exact    map[string]struct{}
	wild     []Pattern
	matchAll bool
}

// CompileList compiles a pattern set. Returns an error naming the first
// malformed regex pattern; glob patterns cannot fail.
func CompileList(exprs []string) (*PatternList, error) {
	l := &PatternList{sources: append([]string(nil), exprs...)}
	for _, expr := range exprs {
		p, err := CompilePattern(expr)
		if err != nil {
			return nil, err
		}
		switch cp := p.(type) {
		case matchAllPattern:
			l.matchAll = true
		case constantPattern:
			if l.exact == nil {
				l.exact = make(map[string]struct{})
			}
			l.exact[string(cp)] = struct{}{}
		default:
			l.wild = append(l.wild, p)
		}
	}
	return l, nil
}

// MustCompileList is CompileList for pattern sets known to be valid, such as
// built-in constant tables.
func MustCompileList(exprs []string) *PatternList {
	l, err := CompileList(exprs)
	if err != nil {
		panic(err)
	}
	return l
}

// Sources returns the original pattern expressions.
func (l *PatternList) Sources() []string { return l.sources }

// IsEmpty reports whether the list holds no patterns at all.
func (l *PatternList) IsEmpty() bool {
	return !l.matchAll && len(l.exact) == 0 && len(l.wild) == 0
}

// ContainsMatchAll reports whether the literal "*" pattern is present.
// Narrower patterns that happen to cover every current candidate do not count.
func (l *PatternList) ContainsMatchAll() bool { return l.matchAll }

// MatchesAny reports whether candidate is matched by any pattern in the list.
func (l *PatternList) MatchesAny(candidate string) bool {
	if l.matchAll {
		return true
	}
	if _, ok := l.exact[candidate]; ok {
		return true
	}
	for _, p := range l.wild {
		if p.Matches(candidate) {
			return true
		}
	}
	return false
}

// MatchesAll reports whether every candidate is matched. True for an empty
// candidate set.
func (l *PatternList) MatchesAll(candidates []string) bool {
	for _, c := range candidates {
		if !l.MatchesAny(c) {
			return false
		}
	}
	return true
}

// Retain returns the candidates matched by the list, preserving order.
func (l *PatternList) Retain(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if l.MatchesAny(c) {
			out = append(out, c)
		}
	}
	return out
}

func (l *PatternList) String() string {
	return strings.Join(l.sources, ",")
}
