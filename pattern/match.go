package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// Compiled is a cached, regexp-backed pattern over a '.'- or ':'-delimited
// string space. '*' matches exactly one segment, '**' matches any number of
// segments (including zero), anything else is literal.
type Compiled struct {
	source string
	re     *regexp.Regexp
}

// Match reports whether the compiled pattern matches s in full.
func (c *Compiled) Match(s string) bool { return c.re.MatchString(s) }

// Source returns the original pattern string.
func (c *Compiled) Source() string { return c.source }

func compile(source string, sep byte) *Compiled {
	segs := strings.Split(source, string(sep))
	quoted := make([]string, 0, len(segs))
	sepClass := "[^" + regexp.QuoteMeta(string(sep)) + "]"

	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		switch seg {
		case "**":
			// Consume a run of consecutive "**" segments as a single
			// "anything, including zero segments" match.
			if len(quoted) > 0 && quoted[len(quoted)-1] == ".*" {
				continue
			}
			quoted = append(quoted, ".*")
		case "*":
			quoted = append(quoted, sepClass+"+")
		default:
			quoted = append(quoted, regexp.QuoteMeta(seg))
		}
	}

	body := strings.Join(quoted, regexp.QuoteMeta(string(sep)))
	// Collapse "<sep>.*<sep>" artifacts produced by adjacent "**" segments
	// so "a.**.b" still matches "a.b".
	body = collapseDoubleStarSeparators(quoted, string(sep))
	re := regexp.MustCompile("^" + body + "$")
	return &Compiled{source: source, re: re}
}

// collapseDoubleStarSeparators rejoins segments so that a "**" segment
// absorbs its neighboring separator, letting "**" match zero segments.
func collapseDoubleStarSeparators(quoted []string, sep string) string {
	var b strings.Builder
	for i, q := range quoted {
		if i == 0 {
			if q == ".*" && len(quoted) > 1 {
				// a leading "**" is zero or more "<segment><sep>" runs
				q = "(?:.*" + regexp.QuoteMeta(sep) + ")?"
			}
			b.WriteString(q)
			continue
		}
		switch {
		case q == ".*":
			// any other "**" is zero or more "<sep><segment>" runs
			b.WriteString("(?:" + regexp.QuoteMeta(sep) + ".*)?")
			continue
		case i == 1 && quoted[0] == ".*":
			// the leading "**" group already ends with its separator
		default:
			b.WriteString(regexp.QuoteMeta(sep))
		}
		b.WriteString(q)
	}
	return b.String()
}

// Cache compiles and memoizes patterns, purgeable as a whole. Safe for
// concurrent use; the dispatch goroutine is the only writer in practice but
// history/profiler reads may run concurrently per §5.
type Cache struct {
	mu    sync.RWMutex
	byKey map[string]*Compiled
}

func NewCache() *Cache {
	return &Cache{byKey: make(map[string]*Compiled)}
}

func (c *Cache) key(p string, sep byte) string {
	return string(sep) + p
}

// Compile returns a cached Compiled pattern for (pattern, sep), compiling
// and memoizing on first use.
func (c *Cache) Compile(p string, sep byte) *Compiled {
	k := c.key(p, sep)

	c.mu.RLock()
	if cp, ok := c.byKey[k]; ok {
		c.mu.RUnlock()
		return cp
	}
	c.mu.RUnlock()

	cp := compile(p, sep)

	c.mu.Lock()
	c.byKey[k] = cp
	c.mu.Unlock()
	return cp
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.byKey = make(map[string]*Compiled)
	c.mu.Unlock()
}

// Size returns the number of cached patterns.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// MatchesTopic matches t against pattern p using '.' as separator.
func MatchesTopic(t, p string, cache *Cache) bool {
	return cache.Compile(p, '.').Match(t)
}

// MatchesFactKey matches k against pattern p using ':' as separator; also
// used for timer names per §3.
func MatchesFactKey(k, p string, cache *Cache) bool {
	return cache.Compile(p, ':').Match(k)
}

// IsLiteral reports whether p contains no wildcard segment, i.e. an index
// keyed by exact string equality can be used instead of pattern matching.
func IsLiteral(p string) bool {
	return !strings.Contains(p, "*")
}
