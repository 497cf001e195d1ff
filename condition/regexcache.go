package condition

import (
	"regexp"
	"sync"
)

// RegexCache memoizes compiled regular expressions for the `matches`
// operator (§4.5), separate from pattern.Cache since `matches` patterns are
// full regex syntax, not the engine's glob-style topic/fact patterns.
type RegexCache struct {
	mu   sync.RWMutex
	byPattern map[string]*regexp.Regexp
}

func NewRegexCache() *RegexCache {
	return &RegexCache{byPattern: make(map[string]*regexp.Regexp)}
}

// Compile returns a cached *regexp.Regexp for pattern, or nil if pattern
// fails to compile (a malformed `matches` pattern fails its condition
// rather than panicking the dispatch goroutine).
func (c *RegexCache) Compile(pattern string) *regexp.Regexp {
	c.mu.RLock()
	if re, ok := c.byPattern[pattern]; ok {
		c.mu.RUnlock()
		return re
	}
	c.mu.RUnlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}

	c.mu.Lock()
	c.byPattern[pattern] = re
	c.mu.Unlock()
	return re
}
