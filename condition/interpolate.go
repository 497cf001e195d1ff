package condition

import (
	"regexp"
	"strings"

	"rulesengine/dynval"
	"rulesengine/evalctx"
	"rulesengine/ruleset"
)

// interpVar matches ${source.path}, grounded on the teacher's
// semantic/runtime/variables.go variable-substitution regex, generalized
// to the engine's closed namespace grammar instead of a pluggable prefix.
var interpVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// Interpolate substitutes every ${source.path} occurrence in s with the
// stringified resolved value, per §4.6 and §9 ("ref{path} and ${...} share
// the same resolver"). An unresolved reference is replaced with the empty
// string and does not error — interpolation is used inside string payloads
// where a missing value degrades gracefully rather than aborting the action.
func (r *Resolver) Interpolate(s string, ctx *evalctx.Context) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return interpVar.ReplaceAllStringFunc(s, func(match string) string {
		path := match[2 : len(match)-1]
		v, ok := r.Resolve(path, ctx)
		if !ok {
			return ""
		}
		return dynval.Stringify(v)
	})
}

// ResolveValue resolves a ruleset.Value: a literal passes through unchanged,
// a ref{path} is resolved via Resolve. The second return is false only when
// the value is a ref that failed to resolve (§9's set_fact skip-on-undefined
// policy keys off this).
func (r *Resolver) ResolveValue(v ruleset.Value, ctx *evalctx.Context) (interface{}, bool) {
	if !v.IsRef() {
		return v.Literal, true
	}
	return r.Resolve(v.Ref.Path, ctx)
}

// InterpolateDeep walks a dynamic value (string/map/slice/other) and
// applies Interpolate to every string found, recursing into maps and
// slices. Used to interpolate a set_timer action's onExpire data as a
// whole per §4.6.
func (r *Resolver) InterpolateDeep(v interface{}, ctx *evalctx.Context) interface{} {
	switch val := v.(type) {
	case string:
		return r.Interpolate(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			out[k] = r.InterpolateDeep(sub, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = r.InterpolateDeep(sub, ctx)
		}
		return out
	default:
		return v
	}
}
