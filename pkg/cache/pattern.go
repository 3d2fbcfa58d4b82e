package cache

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// patternCacheSize bounds the compiled-pattern memo per memory tier.
// Callers tend to reuse a small set of patterns (invalidation by entity
// type), so a small LRU keeps recompilation off the hot path.
const patternCacheSize = 128

// globToRegexp translates a glob pattern (* and ? wildcards) into an
// anchored regular expression. Every other character matches literally.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to compile glob pattern %q: %w", pattern, err)
	}
	return re, nil
}

// patternMatcher memoizes compiled glob patterns behind an LRU.
type patternMatcher struct {
	compiled *lru.Cache[string, *regexp.Regexp]
}

func newPatternMatcher() *patternMatcher {
	// lru.New only errors on a non-positive size
	compiled, _ := lru.New[string, *regexp.Regexp](patternCacheSize)
	return &patternMatcher{compiled: compiled}
}

func (pm *patternMatcher) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := pm.compiled.Get(pattern); ok {
		return re, nil
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	pm.compiled.Add(pattern, re)
	return re, nil
}

// matchAll reports whether the pattern matches every key.
func matchAll(pattern string) bool {
	return pattern == "" || pattern == "*"
}
