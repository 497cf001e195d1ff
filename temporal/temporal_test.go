package temporal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/event"
	"rulesengine/pattern"
	"rulesengine/ruleset"
)

func noFilter([]ruleset.Condition, *event.Event) bool { return true }

func TestCountMatcherBoundsGroupCardinality(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:       ruleset.TemporalCount,
		Name:       "per-customer-events",
		Event:      &ruleset.SequenceStep{Topic: "clicks"},
		GroupBy:    "customer",
		Window:     "60000",
		Comparison: ruleset.CompareGTE,
		Threshold:  1000000, // never crosses, so instances never self-clear
	}
	m := newCountMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	extra := 50
	for i := 0; i < maxGroupInstances+extra; i++ {
		m.Process(&event.Event{Topic: "clicks", Data: map[string]interface{}{"customer": fmt.Sprintf("cust-%d", i)}})
	}

	assert.LessOrEqual(t, len(m.windows), maxGroupInstances)
}

func TestAbsenceMatcherBoundsGroupCardinality(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:     ruleset.TemporalAbsence,
		Name:     "missing-confirmation",
		After:    &ruleset.SequenceStep{Topic: "orders.created"},
		Expected: &ruleset.SequenceStep{Topic: "orders.confirmed"},
		GroupBy:  "orderId",
		Within:   "60000",
	}
	m := newAbsenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	extra := 50
	for i := 0; i < maxGroupInstances+extra; i++ {
		m.Process(&event.Event{Topic: "orders.created", Data: map[string]interface{}{"orderId": fmt.Sprintf("order-%d", i)}})
	}

	assert.LessOrEqual(t, len(m.waits), maxGroupInstances)
}

func TestSequenceMatcherCompletesInOrder(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind: ruleset.TemporalSequence,
		Name: "login-then-purchase",
		Events: []ruleset.SequenceStep{
			{Topic: "auth.login", As: "login"},
			{Topic: "orders.created", As: "order"},
		},
		Within: "60000",
	}
	m := newSequenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	matches := m.Process(&event.Event{Topic: "auth.login"})
	assert.Empty(t, matches)

	matches = m.Process(&event.Event{Topic: "orders.created"})
	require.Len(t, matches, 1)
	assert.Equal(t, "login-then-purchase", matches[0].PatternName)
	assert.NotNil(t, matches[0].MatchedEvents["login"])
	assert.NotNil(t, matches[0].MatchedEvents["order"])
}

func TestSequenceMatcherIgnoresUnrelatedEvents(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind: ruleset.TemporalSequence,
		Name: "s",
		Events: []ruleset.SequenceStep{
			{Topic: "a"},
			{Topic: "b"},
		},
	}
	m := newSequenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	m.Process(&event.Event{Topic: "a"})
	matches := m.Process(&event.Event{Topic: "unrelated"})
	assert.Empty(t, matches)
	matches = m.Process(&event.Event{Topic: "b"})
	assert.Len(t, matches, 1)
}

func TestSequenceMatcherExpiresAfterWithin(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:   ruleset.TemporalSequence,
		Name:   "s",
		Events: []ruleset.SequenceStep{{Topic: "a"}, {Topic: "b"}},
		Within: "1000",
	}
	m := newSequenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	m.Process(&event.Event{Topic: "a"})
	now = 5000
	matches := m.Process(&event.Event{Topic: "b"})
	assert.Empty(t, matches, "second step after expiry should not complete the old instance")
}

func TestAbsenceMatcherFiresWhenExpectedNeverArrives(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:     ruleset.TemporalAbsence,
		Name:     "no-confirmation",
		After:    &ruleset.SequenceStep{Topic: "order.placed"},
		Expected: &ruleset.SequenceStep{Topic: "order.confirmed"},
		Within:   "1000",
	}
	m := newAbsenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	m.Process(&event.Event{Topic: "order.placed"})
	matches := m.Tick(500)
	assert.Empty(t, matches, "window not yet elapsed")

	matches = m.Tick(1500)
	require.Len(t, matches, 1)
	assert.Equal(t, "no-confirmation", matches[0].PatternName)
}

func TestAbsenceMatcherSuppressedByExpectedEvent(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:     ruleset.TemporalAbsence,
		Name:     "no-confirmation",
		After:    &ruleset.SequenceStep{Topic: "order.placed"},
		Expected: &ruleset.SequenceStep{Topic: "order.confirmed"},
		Within:   "1000",
	}
	m := newAbsenceMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	m.Process(&event.Event{Topic: "order.placed"})
	m.Process(&event.Event{Topic: "order.confirmed"})

	matches := m.Tick(2000)
	assert.Empty(t, matches)
}

func TestCountMatcherTumblingFiresOncePerWindow(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:       ruleset.TemporalCount,
		Name:       "many-logins",
		Event:      &ruleset.SequenceStep{Topic: "auth.failed"},
		Threshold:  3,
		Comparison: ruleset.CompareGTE,
		Window:     "60000",
	}
	m := newCountMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	assert.Empty(t, m.Process(&event.Event{Topic: "auth.failed"}))
	assert.Empty(t, m.Process(&event.Event{Topic: "auth.failed"}))
	matches := m.Process(&event.Event{Topic: "auth.failed"})
	require.Len(t, matches, 1)
	assert.Equal(t, 3.0, matches[0].Value)

	// a fourth event in the same window should not re-fire
	assert.Empty(t, m.Process(&event.Event{Topic: "auth.failed"}))
}

func TestCountMatcherSlidingPrunesOldSamples(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:       ruleset.TemporalCount,
		Name:       "sliding",
		Event:      &ruleset.SequenceStep{Topic: "x"},
		Threshold:  2,
		Comparison: ruleset.CompareGTE,
		Window:     "1000",
		Sliding:    true,
	}
	m := newCountMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	assert.Empty(t, m.Process(&event.Event{Topic: "x"}))
	now = 2000 // older sample should be pruned
	assert.Empty(t, m.Process(&event.Event{Topic: "x"}))
}

func TestAggregateMatcherSum(t *testing.T) {
	now := int64(0)
	spec := &ruleset.TemporalPatternSpec{
		Kind:       ruleset.TemporalAggregate,
		Name:       "big-spend",
		Event:      &ruleset.SequenceStep{Topic: "orders.created"},
		Field:      "amount",
		Function:   ruleset.AggSum,
		Threshold:  100,
		Comparison: ruleset.CompareGTE,
		Window:     "60000",
	}
	m := newAggregateMatcher(spec, func() int64 { return now }, pattern.NewCache(), noFilter)

	assert.Empty(t, m.Process(&event.Event{Topic: "orders.created", Data: map[string]interface{}{"amount": 40.0}}))
	matches := m.Process(&event.Event{Topic: "orders.created", Data: map[string]interface{}{"amount": 70.0}})
	require.Len(t, matches, 1)
	assert.Equal(t, 110.0, matches[0].Value)
}
