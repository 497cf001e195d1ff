package temporal

import (
	"sync"

	"rulesengine/dynval"
	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ringbuf"
	"rulesengine/ruleset"
)

type aggregateSample struct {
	ts    int64
	value float64
}

type aggregateWindow struct {
	samples   []aggregateSample
	windowEnd int64
	fired     bool
}

type aggregateMatcher struct {
	mu         sync.Mutex
	spec       *ruleset.TemporalPatternSpec
	nowFn      func() int64
	cache      *pattern.Cache
	evalFilter func([]ruleset.Condition, *event.Event) bool
	windowMs   int64

	windows map[string]*aggregateWindow
	groups  *ringbuf.Buffer[string]
}

func newAggregateMatcher(spec *ruleset.TemporalPatternSpec, nowFn func() int64, cache *pattern.Cache, evalFilter func([]ruleset.Condition, *event.Event) bool) *aggregateMatcher {
	windowMs, _ := parseDurationMs(spec.Window)
	return &aggregateMatcher{
		spec:       spec,
		nowFn:      nowFn,
		cache:      cache,
		evalFilter: evalFilter,
		windowMs:   windowMs,
		windows:    make(map[string]*aggregateWindow),
		groups:     ringbuf.New[string](maxGroupInstances),
	}
}

func (m *aggregateMatcher) Process(e *event.Event) []Match {
	if m.spec.Event == nil || !matchesStep(e, m.spec.Event, m.evalFilter, m.cache) {
		return nil
	}
	fieldVal, ok := dynval.Get(e.Data, m.spec.Field)
	if !ok {
		return nil
	}
	numeric, ok := dynval.AsFloat(fieldVal)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	group := groupKeyOf(e, m.spec.GroupBy)
	now := m.nowFn()
	w, ok := m.windows[group]
	if !ok {
		w = &aggregateWindow{}
		if !m.spec.Sliding {
			w.windowEnd = now + m.windowMs
		}
		m.groups.Append(group, func(evicted string) { delete(m.windows, evicted) })
		m.windows[group] = w
	}
	if !m.spec.Sliding && now >= w.windowEnd {
		w = &aggregateWindow{windowEnd: now + m.windowMs}
		m.windows[group] = w
	}

	w.samples = append(w.samples, aggregateSample{ts: now, value: numeric})
	if m.spec.Sliding {
		w.samples = pruneSamplesOlderThan(w.samples, now-m.windowMs)
	}

	result := reduce(m.spec.Function, w.samples)
	if !compareThreshold(result, m.spec.Comparison, m.spec.Threshold) {
		return nil
	}
	if !m.spec.Sliding {
		if w.fired {
			return nil
		}
		w.fired = true
	}
	return []Match{{PatternName: m.spec.Name, GroupKey: group, Value: result}}
}

func (m *aggregateMatcher) Tick(nowMs int64) []Match {
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

func pruneSamplesOlderThan(samples []aggregateSample, cutoff int64) []aggregateSample {
	out := samples[:0]
	for _, s := range samples {
		if s.ts > cutoff {
			out = append(out, s)
		}
	}
	return out
}

func reduce(fn ruleset.AggregateFunction, samples []aggregateSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	switch fn {
	case ruleset.AggCount:
		return float64(len(samples))
	case ruleset.AggSum:
		var sum float64
		for _, s := range samples {
			sum += s.value
		}
		return sum
	case ruleset.AggAvg:
		var sum float64
		for _, s := range samples {
			sum += s.value
		}
		return sum / float64(len(samples))
	case ruleset.AggMin:
		min := samples[0].value
		for _, s := range samples[1:] {
			if s.value < min {
				min = s.value
			}
		}
		return min
	case ruleset.AggMax:
		max := samples[0].value
		for _, s := range samples[1:] {
			if s.value > max {
				max = s.value
			}
		}
		return max
	default:
		return 0
	}
}
