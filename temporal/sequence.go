package temporal

import (
	"sync"

	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ringbuf"
	"rulesengine/ruleset"
)

// sequenceInstance tracks progress through spec.Events for one group key.
// §9 decision: at most one active instance per group; a new matching first
// step restarts the instance rather than running concurrently with it.
type sequenceInstance struct {
	nextStep int
	deadline int64
	matched  map[string]*event.Event
}

type sequenceMatcher struct {
	mu         sync.Mutex
	spec       *ruleset.TemporalPatternSpec
	nowFn      func() int64
	cache      *pattern.Cache
	evalFilter func([]ruleset.Condition, *event.Event) bool
	withinMs   int64

	instances map[string]*sequenceInstance
	groups    *ringbuf.Buffer[string]
}

func newSequenceMatcher(spec *ruleset.TemporalPatternSpec, nowFn func() int64, cache *pattern.Cache, evalFilter func([]ruleset.Condition, *event.Event) bool) *sequenceMatcher {
	withinMs := int64(0)
	if spec.Within != "" {
		if d, err := parseDurationMs(spec.Within); err == nil {
			withinMs = d
		}
	}
	return &sequenceMatcher{
		spec:       spec,
		nowFn:      nowFn,
		cache:      cache,
		evalFilter: evalFilter,
		withinMs:   withinMs,
		instances:  make(map[string]*sequenceInstance),
		groups:     ringbuf.New[string](maxGroupInstances),
	}
}

func (m *sequenceMatcher) Process(e *event.Event) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	group := groupKeyOf(e, m.spec.GroupBy)
	now := m.nowFn()

	inst, ok := m.instances[group]
	if ok && m.withinMs > 0 && now > inst.deadline {
		delete(m.instances, group) // expired: treat as absent, will be re-tried from step 0 below
		ok = false
	}

	if len(m.spec.Events) == 0 {
		return nil
	}

	if !ok {
		// only the first step can start a new instance
		if matchesStep(e, &m.spec.Events[0], m.evalFilter, m.cache) {
			inst = &sequenceInstance{nextStep: 1, matched: map[string]*event.Event{}}
			if m.spec.Events[0].As != "" {
				inst.matched[m.spec.Events[0].As] = e
			}
			if m.withinMs > 0 {
				inst.deadline = now + m.withinMs
			}
			if len(m.spec.Events) == 1 {
				delete(m.instances, group)
				return []Match{{PatternName: m.spec.Name, GroupKey: group, MatchedEvents: inst.matched}}
			}
			m.groups.Append(group, func(evicted string) { delete(m.instances, evicted) })
			m.instances[group] = inst
		}
		return nil
	}

	step := &m.spec.Events[inst.nextStep]
	if !matchesStep(e, step, m.evalFilter, m.cache) {
		// Non-matching events between steps are ignored, per §4.8: a
		// sequence only cares about its named steps' events in order.
		// But a fresh match of step 0 should still be allowed to restart
		// in place of a stalled instance.
		if inst.nextStep > 0 && matchesStep(e, &m.spec.Events[0], m.evalFilter, m.cache) {
			restarted := &sequenceInstance{nextStep: 1, matched: map[string]*event.Event{}}
			if m.spec.Events[0].As != "" {
				restarted.matched[m.spec.Events[0].As] = e
			}
			if m.withinMs > 0 {
				restarted.deadline = now + m.withinMs
			}
			m.instances[group] = restarted
		}
		return nil
	}

	if step.As != "" {
		inst.matched[step.As] = e
	}
	inst.nextStep++

	if inst.nextStep >= len(m.spec.Events) {
		delete(m.instances, group)
		return []Match{{PatternName: m.spec.Name, GroupKey: group, MatchedEvents: inst.matched}}
	}
	return nil
}

func (m *sequenceMatcher) Tick(nowMs int64) []Match {
	if m.withinMs == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for group, inst := range m.instances {
		if nowMs > inst.deadline {
			delete(m.instances, group) // sequence timed out: no match, just reset
		}
	}
	return nil
}
