package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorIndexesByCorrelationRuleType(t *testing.T) {
	c := NewCollector(10)
	passed := true
	c.Record(Entry{Type: TypeRuleExecuted, RuleID: "r1", CorrelationID: "c1", Passed: &passed})
	c.Record(Entry{Type: TypeActionCompleted, RuleID: "r1", CorrelationID: "c1"})
	c.Record(Entry{Type: TypeRuleExecuted, RuleID: "r2", CorrelationID: "c2", Passed: &passed})

	assert.Len(t, c.ByCorrelation("c1"), 2)
	assert.Len(t, c.ByRule("r1"), 2)
	assert.Len(t, c.ByType(TypeRuleExecuted), 2)
}

func TestCollectorEvictsOldestAtCapacity(t *testing.T) {
	c := NewCollector(5)
	for i := 0; i < 20; i++ {
		c.Record(Entry{Type: TypeRuleExecuted, RuleID: "r", CorrelationID: "c"})
	}
	assert.LessOrEqual(t, len(c.All()), 5)
	// the index should not retain stale ids for evicted entries
	assert.LessOrEqual(t, len(c.ByRule("r")), 5)
}

func TestProfilerAggregates(t *testing.T) {
	c := NewCollector(100)
	p := NewProfiler()
	c.AddSink(p)

	passed := true
	c.Record(Entry{Type: TypeRuleExecuted, RuleID: "r1", RuleName: "discount", Passed: &passed, DurationMs: 2})
	c.Record(Entry{Type: TypeRuleSkipped, RuleID: "r1", RuleName: "discount", DurationMs: 4, Detail: map[string]interface{}{"reason": "conditions_not_met"}})
	c.Record(Entry{Type: TypeActionCompleted, RuleID: "r1"})
	c.Record(Entry{Type: TypeActionFailed, RuleID: "r1"})

	prof := p.Get("r1")
	require.NotNil(t, prof)
	assert.Equal(t, 2, prof.EvaluationCount)
	assert.Equal(t, 1, prof.PassCount)
	assert.Equal(t, 0.5, prof.PassRate())
	assert.Equal(t, 2, prof.ActionsRun)
	assert.Equal(t, 1, prof.ActionsFailed)
	assert.Equal(t, 3.0, prof.AvgDurationMs())
}

func TestProfilerSlowestHottestLowestPassRate(t *testing.T) {
	p := NewProfiler()
	passed := true
	skippedDetail := map[string]interface{}{"reason": "conditions_not_met"}

	p.Publish(Entry{Type: TypeRuleExecuted, RuleID: "fast", Passed: &passed, DurationMs: 1})
	p.Publish(Entry{Type: TypeRuleSkipped, RuleID: "slow", DurationMs: 100, Detail: skippedDetail})
	for i := 0; i < 5; i++ {
		p.Publish(Entry{Type: TypeRuleExecuted, RuleID: "hot", Passed: &passed, DurationMs: 1})
	}

	slowest := p.Slowest(1)
	require.Len(t, slowest, 1)
	assert.Equal(t, "slow", slowest[0].RuleID)

	hottest := p.Hottest(1)
	require.Len(t, hottest, 1)
	assert.Equal(t, "hot", hottest[0].RuleID)

	lowest := p.LowestPassRate(1)
	require.Len(t, lowest, 1)
	assert.Equal(t, "slow", lowest[0].RuleID)
}
