package temporal

import (
	"sync"

	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ringbuf"
	"rulesengine/ruleset"
)

// absenceWait tracks one "after X, expect Y within duration" instance.
type absenceWait struct {
	deadline int64
	trigger  *event.Event
}

type absenceMatcher struct {
	mu         sync.Mutex
	spec       *ruleset.TemporalPatternSpec
	nowFn      func() int64
	cache      *pattern.Cache
	evalFilter func([]ruleset.Condition, *event.Event) bool
	withinMs   int64

	waits  map[string]*absenceWait
	groups *ringbuf.Buffer[string]
}

func newAbsenceMatcher(spec *ruleset.TemporalPatternSpec, nowFn func() int64, cache *pattern.Cache, evalFilter func([]ruleset.Condition, *event.Event) bool) *absenceMatcher {
	withinMs, _ := parseDurationMs(spec.Within)
	return &absenceMatcher{
		spec:       spec,
		nowFn:      nowFn,
		cache:      cache,
		evalFilter: evalFilter,
		withinMs:   withinMs,
		waits:      make(map[string]*absenceWait),
		groups:     ringbuf.New[string](maxGroupInstances),
	}
}

func (m *absenceMatcher) Process(e *event.Event) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spec.After == nil || m.spec.Expected == nil {
		return nil
	}
	group := groupKeyOf(e, m.spec.GroupBy)

	if matchesStep(e, m.spec.After, m.evalFilter, m.cache) {
		if _, existed := m.waits[group]; !existed {
			m.groups.Append(group, func(evicted string) { delete(m.waits, evicted) })
		}
		m.waits[group] = &absenceWait{deadline: m.nowFn() + m.withinMs, trigger: e}
		return nil
	}

	if _, ok := m.waits[group]; ok {
		if matchesStep(e, m.spec.Expected, m.evalFilter, m.cache) {
			delete(m.waits, group) // expected event arrived in time: no absence, no match
		}
	}
	return nil
}

// Tick fires a Match for every group whose deadline has elapsed with the
// expected event never having arrived — the absence's window-end is
// boundary-exclusive (§8): a deadline exactly equal to now has not yet
// elapsed.
func (m *absenceMatcher) Tick(nowMs int64) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Match
	for group, w := range m.waits {
		if nowMs > w.deadline {
			matches = append(matches, Match{PatternName: m.spec.Name, GroupKey: group})
			delete(m.waits, group)
		}
	}
	return matches
}
