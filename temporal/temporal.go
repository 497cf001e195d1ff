// Package temporal implements the four temporal pattern matchers of §4.8:
// sequence, absence, count and aggregate. Each matcher tracks independent
// instances keyed by the pattern's groupBy value, grounded on the teacher's
// statemanager ring-buffer bookkeeping style for bounding per-group state.
package temporal

import (
	"rulesengine/dynval"
	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ruleset"
)

// Match is delivered when a temporal pattern completes (sequence, absence
// window elapsed without the expected event, or a count or aggregate
// threshold crossed). Count and aggregate matches are reported by Process
// at the event that crosses the threshold, at most once per tumbling
// window; a tumbling window starts at its group's first matching event,
// is not aligned to a fixed boundary, and is not evaluated at window end.
type Match struct {
	PatternName   string
	GroupKey      string
	MatchedEvents map[string]*event.Event // sequence: "as" name -> event
	Value         float64                 // count: the count; aggregate: the reduced value
}

// Matcher evaluates one TemporalPatternSpec against the event stream.
type Matcher interface {
	// Process is called for every published event; it may emit 0+ matches.
	Process(e *event.Event) []Match
	// Tick is called periodically (or driven by a timer) so absence
	// patterns can fire on elapsed time rather than only on the next
	// matching event. Sequence, count and aggregate matchers use it only to
	// drop expired instances and windows, and return no matches.
	Tick(nowMs int64) []Match
}

// groupKeyOf extracts the event's groupBy value, or "" if groupBy is empty
// (a single ungrouped instance) or unresolvable (also grouped under "").
func groupKeyOf(e *event.Event, groupBy string) string {
	if groupBy == "" {
		return ""
	}
	v, ok := dynval.Get(e.Data, groupBy)
	if !ok {
		return ""
	}
	return dynval.Stringify(v)
}

func matchesStep(e *event.Event, step *ruleset.SequenceStep, evaluate func(conds []ruleset.Condition, e *event.Event) bool, cache *pattern.Cache) bool {
	if !pattern.MatchesTopic(e.Topic, step.Topic, cache) {
		return false
	}
	if len(step.Filter) == 0 {
		return true
	}
	return evaluate(step.Filter, e)
}

// New builds the appropriate Matcher implementation for spec.Kind.
// evalFilter evaluates a SequenceStep's Filter conditions against a
// candidate event's data, using the same condition evaluator the rest of
// the engine uses (a *ruleset.Condition with SourceEvent reading from a
// synthetic context wrapping the candidate event).
func New(spec *ruleset.TemporalPatternSpec, nowFn func() int64, cache *pattern.Cache, evalFilter func(conds []ruleset.Condition, e *event.Event) bool) Matcher {
	switch spec.Kind {
	case ruleset.TemporalSequence:
		return newSequenceMatcher(spec, nowFn, cache, evalFilter)
	case ruleset.TemporalAbsence:
		return newAbsenceMatcher(spec, nowFn, cache, evalFilter)
	case ruleset.TemporalCount:
		return newCountMatcher(spec, nowFn, cache, evalFilter)
	case ruleset.TemporalAggregate:
		return newAggregateMatcher(spec, nowFn, cache, evalFilter)
	default:
		return noopMatcher{}
	}
}

// parseDurationMs parses s via pattern.ParseDuration and returns milliseconds.
func parseDurationMs(s string) (int64, error) {
	d, err := pattern.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

type noopMatcher struct{}

func (noopMatcher) Process(*event.Event) []Match { return nil }
func (noopMatcher) Tick(int64) []Match            { return nil }
