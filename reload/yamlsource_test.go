package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/ruleset"
)

func writeYAML(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestYAMLDirSourceParsesLiteralAndRefValues(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "orders.yaml", `
rules:
  - id: big-order
    name: Flag big orders
    trigger:
      kind: event
      topic: orders.created
    conditions:
      - source: {kind: event, field: amount}
        operator: gt
        value: 100
      - source: {kind: fact, key: customer:tier}
        operator: eq
        value: {ref: "event.tier"}
    actions:
      - kind: set_fact
        key: orders:flagged
        value: true
`)

	src := NewYAMLDirSource(dir)
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, "big-order", r.ID)
	assert.Equal(t, ruleset.TriggerEvent, r.Trigger.Kind)
	assert.Equal(t, "orders.created", r.Trigger.Topic)
	require.Len(t, r.Conditions, 2)
	assert.Equal(t, 100.0, r.Conditions[0].Value.Literal)
	require.NotNil(t, r.Conditions[1].Value.Ref)
	assert.Equal(t, "event.tier", r.Conditions[1].Value.Ref.Path)
	require.Len(t, r.Actions, 1)
	assert.Equal(t, ruleset.ActionSetFact, r.Actions[0].Kind)
	assert.Equal(t, true, r.Actions[0].Value.Literal)
}

func TestYAMLDirSourceParsesEveryTriggerKind(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "triggers.yaml", `
rules:
  - id: on-event
    name: on-event
    trigger: {kind: event, topic: orders.created}
  - id: on-fact
    name: on-fact
    trigger: {kind: fact, pattern: "customer:*"}
  - id: on-timer
    name: on-timer
    trigger: {kind: timer, pattern: "reminder:*"}
  - id: on-temporal
    name: on-temporal
    trigger:
      kind: temporal
      temporal:
        kind: sequence
        name: checkout-flow
        events:
          - {topic: cart.viewed, as: view}
          - {topic: checkout.completed, as: checkout}
        within: 30m
`)
	src := NewYAMLDirSource(dir)
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 4)

	byID := map[string]ruleset.RuleInput{}
	for _, r := range rules {
		byID[r.ID] = r
	}

	assert.Equal(t, ruleset.TriggerEvent, byID["on-event"].Trigger.Kind)
	assert.Equal(t, "orders.created", byID["on-event"].Trigger.Topic)

	assert.Equal(t, ruleset.TriggerFact, byID["on-fact"].Trigger.Kind)
	assert.Equal(t, "customer:*", byID["on-fact"].Trigger.Pattern)

	assert.Equal(t, ruleset.TriggerTimer, byID["on-timer"].Trigger.Kind)
	assert.Equal(t, "reminder:*", byID["on-timer"].Trigger.Pattern)

	temporal := byID["on-temporal"].Trigger.Temporal
	require.NotNil(t, temporal)
	assert.Equal(t, ruleset.TemporalSequence, temporal.Kind)
	assert.Equal(t, "checkout-flow", temporal.Name)
	require.Len(t, temporal.Events, 2)
	assert.Equal(t, "cart.viewed", temporal.Events[0].Topic)
	assert.Equal(t, "30m", temporal.Within)
}

func TestYAMLDirSourceParsesEveryTemporalKind(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "temporal.yaml", `
rules:
  - id: absence-rule
    name: absence-rule
    trigger:
      kind: temporal
      temporal:
        kind: absence
        name: abandoned-cart
        after: {topic: cart.viewed, as: view}
        expected: {topic: checkout.completed, as: checkout}
        within: 1h
  - id: count-rule
    name: count-rule
    trigger:
      kind: temporal
      temporal:
        kind: count
        name: repeated-login-failures
        event: {topic: login.failed, as: attempt}
        threshold: 5
        comparison: gte
        window: 10m
  - id: aggregate-rule
    name: aggregate-rule
    trigger:
      kind: temporal
      temporal:
        kind: aggregate
        name: spend-burst
        event: {topic: orders.created, as: order}
        field: amount
        function: sum
        threshold: 500
        comparison: gte
        window: 1h
        sliding: true
`)
	src := NewYAMLDirSource(dir)
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 3)

	byID := map[string]ruleset.RuleInput{}
	for _, r := range rules {
		byID[r.ID] = r
	}

	absence := byID["absence-rule"].Trigger.Temporal
	require.NotNil(t, absence)
	assert.Equal(t, ruleset.TemporalAbsence, absence.Kind)
	require.NotNil(t, absence.After)
	require.NotNil(t, absence.Expected)
	assert.Equal(t, "cart.viewed", absence.After.Topic)
	assert.Equal(t, "checkout.completed", absence.Expected.Topic)

	count := byID["count-rule"].Trigger.Temporal
	require.NotNil(t, count)
	assert.Equal(t, ruleset.TemporalCount, count.Kind)
	require.NotNil(t, count.Event)
	assert.Equal(t, 5.0, count.Threshold)
	assert.Equal(t, ruleset.Comparison("gte"), count.Comparison)

	aggregate := byID["aggregate-rule"].Trigger.Temporal
	require.NotNil(t, aggregate)
	assert.Equal(t, ruleset.TemporalAggregate, aggregate.Kind)
	assert.Equal(t, "amount", aggregate.Field)
	assert.Equal(t, ruleset.AggregateFunction("sum"), aggregate.Function)
	assert.True(t, aggregate.Sliding)
}

func TestYAMLDirSourceParsesEveryActionKind(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "actions.yaml", `
rules:
  - id: all-actions
    name: all-actions
    trigger: {kind: event, topic: orders.created}
    actions:
      - {kind: set_fact, key: orders:flagged, value: true}
      - {kind: delete_fact, key: orders:flagged}
      - kind: emit_event
        topic: orders.flagged
        data:
          orderId: {ref: "event.id"}
      - kind: set_timer
        timerConfig:
          name: order-timeout
          duration: 15m
          onExpire:
            topic: orders.timedOut
            data: {orderId: {ref: "event.id"}}
      - {kind: cancel_timer, timerName: order-timeout}
      - {kind: log, logLevel: warn, logMessage: "order flagged"}
      - kind: call_service
        service: inventory
        method: reserve
        args: ["sku-1", 2]
      - {kind: arithmetic, key: orders:count, op: increment, amount: 1}
`)
	src := NewYAMLDirSource(dir)
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	actions := rules[0].Actions
	require.Len(t, actions, 8)

	assert.Equal(t, ruleset.ActionSetFact, actions[0].Kind)
	assert.Equal(t, ruleset.ActionDeleteFact, actions[1].Kind)

	assert.Equal(t, ruleset.ActionEmitEvent, actions[2].Kind)
	assert.Equal(t, "orders.flagged", actions[2].Topic)
	require.Contains(t, actions[2].Data, "orderId")
	assert.NotNil(t, actions[2].Data["orderId"].Ref)

	assert.Equal(t, ruleset.ActionSetTimer, actions[3].Kind)
	require.NotNil(t, actions[3].TimerConfig)
	assert.Equal(t, "order-timeout", actions[3].TimerConfig.Name)
	assert.Equal(t, "orders.timedOut", actions[3].TimerConfig.OnExpire.Topic)

	assert.Equal(t, ruleset.ActionCancelTimer, actions[4].Kind)
	assert.Equal(t, "order-timeout", actions[4].TimerName)

	assert.Equal(t, ruleset.ActionLog, actions[5].Kind)
	assert.Equal(t, "warn", actions[5].LogLevel)

	assert.Equal(t, ruleset.ActionCallService, actions[6].Kind)
	assert.Equal(t, "inventory", actions[6].Service)
	assert.Equal(t, "reserve", actions[6].Method)
	require.Len(t, actions[6].Args, 2)

	assert.Equal(t, ruleset.ActionArithmetic, actions[7].Kind)
	assert.Equal(t, "increment", actions[7].Op)
	assert.Equal(t, 1.0, actions[7].Amount.Literal)
}

func TestYAMLDirSourceIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "rules.yaml", `
rules:
  - id: r1
    name: r1
    trigger: {kind: event, topic: t}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not yaml"), 0o644))

	src := NewYAMLDirSource(dir)
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestYAMLDirSourceErrorsOnMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "broken.yaml", "rules: [this is not valid")

	src := NewYAMLDirSource(dir)
	_, err := src.LoadRules(context.Background())
	assert.Error(t, err)
}
