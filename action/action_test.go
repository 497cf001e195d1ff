package action

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/condition"
	"rulesengine/evalctx"
	"rulesengine/event"
	"rulesengine/fact"
	"rulesengine/ruleset"
	"rulesengine/timer"
)

func newHarness() (*Registry, *fact.Store, *event.Bus, *timer.Manager, *evalctx.Context) {
	resolver := condition.NewResolver(nil)
	facts := fact.New(nil)
	store := event.NewStore(100)
	bus := event.NewBus(store, func() int64 { return 0 }, nil)
	services := condition.NewRegistry()
	timers := timer.New(func(timer.Fire) {}, nil)

	registry := NewRegistry()
	RegisterDefaults(registry, resolver, facts, bus, timers, services, logrus.NewEntry(logrus.New()), func() int64 { return 0 }, func() string { return "id-1" })

	ctx := evalctx.New(&evalctx.TriggerInstance{}, facts, "corr-1", "")
	return registry, facts, bus, timers, ctx
}

func TestSetFactExecutorWritesValue(t *testing.T) {
	registry, facts, _, _, ctx := newHarness()

	a := ruleset.Action{Kind: ruleset.ActionSetFact, Key: "customer:active", Value: ruleset.Value{Literal: true}}
	res := registry.Execute(context.Background(), a, ctx)

	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, true, facts.Get("customer:active").Value)
}

func TestSetFactExecutorSkipsUndefinedRef(t *testing.T) {
	registry, facts, _, _, ctx := newHarness()

	a := ruleset.Action{Kind: ruleset.ActionSetFact, Key: "k", Value: ruleset.Value{Ref: &ruleset.RefPath{Path: "context.missing"}}}
	res := registry.Execute(context.Background(), a, ctx)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Nil(t, facts.Get("k"))
}

func TestDeleteFactExecutor(t *testing.T) {
	registry, facts, _, _, ctx := newHarness()
	facts.Set("k", 1, "test", 0)

	res := registry.Execute(context.Background(), ruleset.Action{Kind: ruleset.ActionDeleteFact, Key: "k"}, ctx)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Nil(t, facts.Get("k"))
}

func TestEmitEventExecutorPublishes(t *testing.T) {
	registry, _, bus, _, ctx := newHarness()

	var received *event.Event
	bus.Subscribe("orders.**", func(e *event.Event) { received = e })

	a := ruleset.Action{
		Kind:  ruleset.ActionEmitEvent,
		Topic: "orders.created",
		Data:  map[string]ruleset.Value{"amount": {Literal: 100.0}},
	}
	res := registry.Execute(context.Background(), a, ctx)
	require.Equal(t, StatusCompleted, res.Status)
	require.NotNil(t, received)
	assert.Equal(t, "orders.created", received.Topic)
	assert.Equal(t, "corr-1", received.CorrelationID)
	assert.Equal(t, 100.0, received.Data["amount"])
}

func TestSetAndCancelTimerExecutors(t *testing.T) {
	registry, _, _, timers, ctx := newHarness()

	setRes := registry.Execute(context.Background(), ruleset.Action{
		Kind: ruleset.ActionSetTimer,
		TimerConfig: &ruleset.TimerConfig{
			Name:     "escalation",
			Duration: "60000",
			OnExpire: ruleset.EventSpec{Topic: "timer.escalation.expired"},
		},
	}, ctx)
	require.Equal(t, StatusCompleted, setRes.Status)
	assert.True(t, timers.Active("escalation"))

	handle := timers.GetTimer("escalation")
	require.NotNil(t, handle)
	assert.Equal(t, "corr-1", handle.CorrelationID)

	cancelRes := registry.Execute(context.Background(), ruleset.Action{Kind: ruleset.ActionCancelTimer, TimerName: "escalation"}, ctx)
	require.Equal(t, StatusCompleted, cancelRes.Status)
	assert.False(t, timers.Active("escalation"))
}

func TestArithmeticExecutorIncrementsMissingFact(t *testing.T) {
	registry, facts, _, _, ctx := newHarness()

	a := ruleset.Action{Kind: ruleset.ActionArithmetic, Key: "counter", Op: "add", Amount: ruleset.Value{Literal: 5.0}}
	res := registry.Execute(context.Background(), a, ctx)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 5.0, facts.Get("counter").Value)

	res = registry.Execute(context.Background(), a, ctx)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 10.0, facts.Get("counter").Value)
}

func TestUnhandledActionKindFails(t *testing.T) {
	registry := NewRegistry()
	ctx := evalctx.New(&evalctx.TriggerInstance{}, fact.New(nil), "c", "")
	res := registry.Execute(context.Background(), ruleset.Action{Kind: ruleset.ActionSetFact}, ctx)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Error)
}
