// Package condition implements the condition evaluator of §4.5: reference
// resolution, ${...} interpolation, operator semantics, and the compiled
// pattern cache, all driven from the single evalctx.Context built per §4.4.
package condition

import (
	"strings"

	"rulesengine/dynval"
	"rulesengine/evalctx"
)

// BaselineProvider supplies historical aggregates for source{baseline}
// conditions. The engine core ships no concrete implementation — it is an
// explicit extension point a deployment wires in.
type BaselineProvider interface {
	Baseline(metric string) (interface{}, bool)
}

// Resolver resolves a single "source.path" reference against a Context,
// per §9's "one resolver with a small, total path grammar", adapted from
// the teacher's VariableResolver chain (semantic/runtime/variables.go) into
// one resolver with a fixed five-namespace grammar instead of a pluggable
// chain, since the engine's namespaces are closed (§3).
type Resolver struct {
	Baseline BaselineProvider
}

func NewResolver(baseline BaselineProvider) *Resolver {
	return &Resolver{Baseline: baseline}
}

// Resolve looks up "<namespace>.<rest>" against ctx:
//   - fact.<key>        -> live fact value (key itself may contain ':')
//   - event.<dotted>     -> dotted path into the triggering event's data
//   - context.<name>     -> a previously bound variable
//   - lookup.<name>[.<field...>] -> a resolved DataRequirement result
//   - baseline.<metric>  -> BaselineProvider.Baseline(metric)
func (r *Resolver) Resolve(path string, ctx *evalctx.Context) (interface{}, bool) {
	ns, rest, _ := strings.Cut(path, ".")

	switch ns {
	case "fact":
		if ctx.Facts == nil {
			return nil, false
		}
		f := ctx.Facts.Get(rest)
		if f == nil {
			return nil, false
		}
		return f.Value, true
	case "event":
		data := ctx.EventData()
		if data == nil {
			return nil, false
		}
		return dynval.Get(data, rest)
	case "context":
		v, ok := ctx.Variables[rest]
		return v, ok
	case "lookup":
		name, field, hasField := strings.Cut(rest, ".")
		v, ok := ctx.Lookups[name]
		if !ok {
			return nil, false
		}
		if !hasField {
			return v, true
		}
		return dynval.Get(v, field)
	case "baseline":
		if r.Baseline == nil {
			return nil, false
		}
		return r.Baseline.Baseline(rest)
	default:
		return nil, false
	}
}
