package condition

import (
	"fmt"
	"reflect"

	"rulesengine/dynval"
	"rulesengine/evalctx"
	"rulesengine/ruleset"
)

// Result records one condition's outcome for tracing (§4.5, §4.10).
type Result struct {
	Source      ruleset.ConditionSource
	Operator    ruleset.Operator
	ExpectedValue interface{}
	ActualValue   interface{}
	Passed        bool
	DurationMs    float64
}

// Evaluator evaluates a rule's condition list against a Context.
type Evaluator struct {
	Resolver   *Resolver
	RegexCache *RegexCache
	NowFn      func() int64 // millis, for duration measurement; tests inject a fixed clock
}

func NewEvaluator(r *Resolver, nowFn func() int64) *Evaluator {
	return &Evaluator{Resolver: r, RegexCache: NewRegexCache(), NowFn: nowFn}
}

// EvaluateAll runs every condition short-circuiting on the first failure
// (§4.4 step 3: "all conditions must pass"), returning the per-condition
// trace of everything evaluated up to and including the failing one.
func (e *Evaluator) EvaluateAll(conditions []ruleset.Condition, ctx *evalctx.Context) (bool, []Result) {
	results := make([]Result, 0, len(conditions))
	for _, c := range conditions {
		r := e.Evaluate(c, ctx)
		results = append(results, r)
		if !r.Passed {
			return false, results
		}
	}
	return true, results
}

// Evaluate resolves a condition's actual value from its source and applies
// its operator against its expected value.
func (e *Evaluator) Evaluate(c ruleset.Condition, ctx *evalctx.Context) Result {
	start := e.now()
	actual, actualOK := e.resolveSource(c.Source, ctx)
	expected, expectedOK := e.Resolver.ResolveValue(c.Value, ctx)

	r := Result{Source: c.Source, Operator: c.Operator, ExpectedValue: expected, ActualValue: actual}

	switch c.Operator {
	case ruleset.OpExists:
		r.Passed = actualOK
	case ruleset.OpNotExists:
		r.Passed = !actualOK
	default:
		// every other operator requires a resolvable actual value and expected value
		if !actualOK || !expectedOK {
			r.Passed = false
		} else {
			r.Passed = applyOperator(c.Operator, actual, expected, e.RegexCache)
		}
	}

	r.DurationMs = float64(e.now() - start)
	return r
}

func (e *Evaluator) now() int64 {
	if e.NowFn == nil {
		return 0
	}
	return e.NowFn()
}

// resolveSource reads a condition's actual value from its declared source.
func (e *Evaluator) resolveSource(s ruleset.ConditionSource, ctx *evalctx.Context) (interface{}, bool) {
	switch s.Kind {
	case ruleset.SourceFact:
		key := e.Resolver.Interpolate(s.Pattern, ctx)
		if ctx.Facts == nil {
			return nil, false
		}
		f := ctx.Facts.Get(key)
		if f == nil {
			return nil, false
		}
		return f.Value, true
	case ruleset.SourceEvent:
		data := ctx.EventData()
		if data == nil {
			return nil, false
		}
		return dynval.Get(data, s.Field)
	case ruleset.SourceContext:
		v, ok := ctx.Variables[s.Key]
		return v, ok
	case ruleset.SourceLookup:
		v, ok := ctx.Lookups[s.Name]
		if !ok {
			return nil, false
		}
		if s.Field == "" {
			return v, true
		}
		return dynval.Get(v, s.Field)
	case ruleset.SourceBaseline:
		if e.Resolver.Baseline == nil {
			return nil, false
		}
		return e.Resolver.Baseline.Baseline(s.Name)
	default:
		return nil, false
	}
}

// Compare applies one of the 11 binary operators, or exists/not_exists,
// directly to two values,
// outside of a condition/Context. Used by the backward-chaining engine to
// check a goal's value/operator against a fact already in the store.
func Compare(op ruleset.Operator, actual, expected interface{}) bool {
	switch op {
	case ruleset.OpExists:
		return actual != nil
	case ruleset.OpNotExists:
		return actual == nil
	default:
		return applyOperator(op, actual, expected, standaloneRegexCache)
	}
}

var standaloneRegexCache = NewRegexCache()

// applyOperator implements the 11 binary operators of §4.5.
func applyOperator(op ruleset.Operator, actual, expected interface{}, regexes *RegexCache) bool {
	switch op {
	case ruleset.OpEq:
		return valuesEqual(actual, expected)
	case ruleset.OpNeq:
		return !valuesEqual(actual, expected)
	case ruleset.OpGt, ruleset.OpGte, ruleset.OpLt, ruleset.OpLte:
		af, aok := dynval.AsFloat(actual)
		ef, eok := dynval.AsFloat(expected)
		if !aok || !eok {
			return false // numeric comparisons require both operands numeric, else false (§4.5)
		}
		switch op {
		case ruleset.OpGt:
			return af > ef
		case ruleset.OpGte:
			return af >= ef
		case ruleset.OpLt:
			return af < ef
		default:
			return af <= ef
		}
	case ruleset.OpIn, ruleset.OpNotIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false // in/not_in require an array expected value, else fail closed
		}
		found := false
		for _, item := range list {
			if valuesEqual(actual, item) {
				found = true
				break
			}
		}
		if op == ruleset.OpIn {
			return found
		}
		return !found
	case ruleset.OpContains, ruleset.OpNotContains:
		contains := containsValue(actual, expected)
		if op == ruleset.OpContains {
			return contains
		}
		return !contains
	case ruleset.OpMatches:
		pat, ok := expected.(string)
		if !ok {
			return false
		}
		str := dynval.Stringify(actual)
		re := regexes.Compile(pat)
		if re == nil {
			return false
		}
		return re.MatchString(str)
	default:
		return false
	}
}

// valuesEqual compares actual and expected with numeric coercion (1 == 1.0);
// objects and arrays compare by identity, not structurally (§4.5: "for
// objects and arrays, equality is identity").
func valuesEqual(a, b interface{}) bool {
	if af, aok := dynval.AsFloat(a); aok {
		if bf, bok := dynval.AsFloat(b); bok {
			return af == bf
		}
	}
	if isCompound(a) || isCompound(b) {
		if reflect.TypeOf(a) != reflect.TypeOf(b) {
			return false
		}
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

// isCompound reports whether v is a map or slice, the two dynval container
// kinds that carry identity rather than value semantics for eq/neq.
func isCompound(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return true
	default:
		return false
	}
}

func sameKind(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return true
	}
}

func containsValue(container, item interface{}) bool {
	switch c := container.(type) {
	case []interface{}:
		for _, e := range c {
			if valuesEqual(e, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		return len(s) == 0 || indexOf(c, s) >= 0
	default:
		return false
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
