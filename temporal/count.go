package temporal

import (
	"sync"

	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ringbuf"
	"rulesengine/ruleset"
)

// countWindow tracks matching event timestamps for one group, within a
// tumbling or sliding window (§4.8).
type countWindow struct {
	timestamps []int64
	windowEnd  int64 // tumbling only: when the current window closes
	fired      bool  // tumbling only: threshold already reported this window
}

type countMatcher struct {
	mu         sync.Mutex
	spec       *ruleset.TemporalPatternSpec
	nowFn      func() int64
	cache      *pattern.Cache
	evalFilter func([]ruleset.Condition, *event.Event) bool
	windowMs   int64

	windows map[string]*countWindow
	groups  *ringbuf.Buffer[string]
}

func newCountMatcher(spec *ruleset.TemporalPatternSpec, nowFn func() int64, cache *pattern.Cache, evalFilter func([]ruleset.Condition, *event.Event) bool) *countMatcher {
	windowMs, _ := parseDurationMs(spec.Window)
	return &countMatcher{
		spec:       spec,
		nowFn:      nowFn,
		cache:      cache,
		evalFilter: evalFilter,
		windowMs:   windowMs,
		windows:    make(map[string]*countWindow),
		groups:     ringbuf.New[string](maxGroupInstances),
	}
}

func (m *countMatcher) Process(e *event.Event) []Match {
	if m.spec.Event == nil || !matchesStep(e, m.spec.Event, m.evalFilter, m.cache) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	group := groupKeyOf(e, m.spec.GroupBy)
	now := m.nowFn()
	w, ok := m.windows[group]
	if !ok {
		w = &countWindow{}
		if !m.spec.Sliding {
			w.windowEnd = now + m.windowMs
		}
		m.groups.Append(group, func(evicted string) { delete(m.windows, evicted) })
		m.windows[group] = w
	}

	if !m.spec.Sliding && now >= w.windowEnd {
		// tumbling window elapsed: start a fresh one
		w = &countWindow{windowEnd: now + m.windowMs}
		m.windows[group] = w
	}

	w.timestamps = append(w.timestamps, now)
	if m.spec.Sliding {
		w.timestamps = pruneOlderThan(w.timestamps, now-m.windowMs)
	}

	count := float64(len(w.timestamps))
	if !compareThreshold(count, m.spec.Comparison, m.spec.Threshold) {
		return nil
	}
	if !m.spec.Sliding {
		if w.fired {
			return nil // tumbling: report the threshold crossing once per window
		}
		w.fired = true
	}
	return []Match{{PatternName: m.spec.Name, GroupKey: group, Value: count}}
}

// Tick closes elapsed tumbling windows, resetting their counters; sliding
// windows need no tick-driven action since Process prunes lazily.
func (m *countMatcher) Tick(nowMs int64) []Match {
	if m.spec.Sliding {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for group, w := range m.windows {
		if nowMs >= w.windowEnd {
			delete(m.windows, group)
		}
	}
	return nil
}

func pruneOlderThan(timestamps []int64, cutoff int64) []int64 {
	out := timestamps[:0]
	for _, ts := range timestamps {
		if ts > cutoff {
			out = append(out, ts)
		}
	}
	return out
}

func compareThreshold(value float64, cmp ruleset.Comparison, threshold float64) bool {
	switch cmp {
	case ruleset.CompareGTE:
		return value >= threshold
	case ruleset.CompareLTE:
		return value <= threshold
	case ruleset.CompareEQ:
		return value == threshold
	default:
		return false
	}
}
