// Package match implements the matcher/dispatcher of §4.4: a single
// dispatch goroutine draining a buffered queue of triggers (events, fact
// changes, timer fires, temporal matches), selecting candidate rules, and
// running each one's condition+action pipeline in priority order.
//
// Grounded on the teacher's worker.Worker.Start single-consumer channel
// loop (worker/pool.go), adapted to the engine's single-logical-worker
// concurrency model (§5): exactly one trigger is processed end-to-end at a
// time.
package match

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"rulesengine/action"
	"rulesengine/condition"
	"rulesengine/evalctx"
	"rulesengine/event"
	"rulesengine/fact"
	"rulesengine/pattern"
	"rulesengine/ruleset"
	"rulesengine/temporal"
	"rulesengine/timer"
	"rulesengine/trace"
)

// triggerKind discriminates queue items; unexported because only the
// dispatch goroutine ever sees one.
type triggerKind int

const (
	triggerEventKind triggerKind = iota
	triggerFactKind
	triggerTimerKind
	triggerTemporalKind
)

const barrierKind triggerKind = -1

type queueItem struct {
	kind     triggerKind
	event    *event.Event
	factChg  fact.Change
	timerFir timer.Fire
	temporal temporal.Match
	patName  string
	barrier  chan struct{} // barrierKind only: closed once this item is dequeued
}

// Dispatcher owns the processing queue and wires every component involved
// in one trigger's full pipeline.
type Dispatcher struct {
	Rules     *ruleset.Manager
	Facts     *fact.Store
	Bus       *event.Bus
	Evaluator *condition.Evaluator
	Lookups   *condition.LookupRunner
	Actions   *action.Registry
	Timers    *timer.Manager
	Traces    *trace.Collector
	NowFn     func() int64
	IDFn      func(prefix string) string
	Log       *logrus.Entry

	patternCache *pattern.Cache
	queue        chan queueItem
	stopCh       chan struct{}
	wg           sync.WaitGroup

	temporalMu       sync.Mutex
	temporalMatchers map[string]temporal.Matcher // pattern name -> matcher
	temporalRuleID   map[string]string           // pattern name -> owning rule id
}

// NewDispatcher wires a Dispatcher. queueSize bounds the processing queue
// (§6 "processing queue capacity").
func NewDispatcher(
	rules *ruleset.Manager,
	facts *fact.Store,
	bus *event.Bus,
	evaluator *condition.Evaluator,
	lookups *condition.LookupRunner,
	actions *action.Registry,
	timers *timer.Manager,
	traces *trace.Collector,
	nowFn func() int64,
	idFn func(prefix string) string,
	log *logrus.Entry,
	queueSize int,
) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		Rules:            rules,
		Facts:            facts,
		Bus:              bus,
		Evaluator:        evaluator,
		Lookups:          lookups,
		Actions:          actions,
		Timers:           timers,
		Traces:           traces,
		NowFn:            nowFn,
		IDFn:             idFn,
		Log:              log.WithField("component", "dispatcher"),
		patternCache:     pattern.NewCache(),
		queue:            make(chan queueItem, queueSize),
		stopCh:           make(chan struct{}),
		temporalMatchers: make(map[string]temporal.Matcher),
		temporalRuleID:   make(map[string]string),
	}
}

// Start subscribes to events/facts/timers and launches the single dispatch
// goroutine. Call Stop to drain and shut down.
func (d *Dispatcher) Start() {
	d.Bus.Subscribe("**", func(e *event.Event) {
		d.Traces.Record(trace.Entry{
			Type:          trace.TypeEventEmitted,
			CorrelationID: e.CorrelationID,
			TimestampMs:   d.now(),
			Detail: map[string]interface{}{
				"eventId":     e.ID,
				"topic":       e.Topic,
				"causationId": e.CausationID,
				"source":      e.Source,
			},
		})
		d.enqueue(queueItem{kind: triggerEventKind, event: e})
		d.feedTemporal(e)
	})
	d.Facts.Subscribe(func(c fact.Change) {
		d.Traces.Record(trace.Entry{
			Type:        trace.TypeFactChanged,
			TimestampMs: d.now(),
			Detail: map[string]interface{}{
				"key":           c.Key,
				"previousValue": c.PreviousValue,
				"newValue":      c.NewValue,
				"deleted":       c.Deleted,
			},
		})
		d.enqueue(queueItem{kind: triggerFactKind, factChg: c})
	})

	d.wg.Add(1)
	go d.loop()
}

// Stop signals the dispatch goroutine to exit after draining the queue.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// WaitForProcessingQueue blocks until every item enqueued before this call
// has been dequeued by the dispatch goroutine (§6).
func (d *Dispatcher) WaitForProcessingQueue() {
	barrier := make(chan struct{})
	d.enqueue(queueItem{kind: barrierKind, barrier: barrier})
	<-barrier
}

// HandleTimerFire enqueues a timer fire for processing. Wire this as the
// onFire callback passed to timer.New when constructing the engine, since
// the timer.Manager must exist before the Dispatcher that consumes its
// fires does.
func (d *Dispatcher) HandleTimerFire(f timer.Fire) {
	d.enqueue(queueItem{kind: triggerTimerKind, timerFir: f})
}

func (d *Dispatcher) enqueue(item queueItem) {
	select {
	case d.queue <- item:
	case <-d.stopCh:
	}
}

// RegisterTemporalMatcher wires a temporal matcher instance for ruleID's
// pattern so its matches, from published events and from Tick, flow into the
// queue. engine.Engine does not call it.
func (d *Dispatcher) RegisterTemporalMatcher(ruleID, patternName string, m temporal.Matcher) {
	d.temporalMu.Lock()
	defer d.temporalMu.Unlock()
	d.temporalMatchers[patternName] = m
	d.temporalRuleID[patternName] = ruleID
}

func (d *Dispatcher) feedTemporal(e *event.Event) {
	d.temporalMu.Lock()
	matchers := make(map[string]temporal.Matcher, len(d.temporalMatchers))
	for k, v := range d.temporalMatchers {
		matchers[k] = v
	}
	d.temporalMu.Unlock()

	for name, m := range matchers {
		for _, match := range m.Process(e) {
			d.enqueue(queueItem{kind: triggerTemporalKind, temporal: match, patName: name})
		}
	}
}

// Tick passes nowMs to every registered temporal matcher and enqueues the
// matches they return; of the four matchers only absence fires from Tick.
// engine.Engine does not call it.
func (d *Dispatcher) Tick(nowMs int64) {
	d.temporalMu.Lock()
	matchers := make(map[string]temporal.Matcher, len(d.temporalMatchers))
	for k, v := range d.temporalMatchers {
		matchers[k] = v
	}
	d.temporalMu.Unlock()

	for name, m := range matchers {
		for _, match := range m.Tick(nowMs) {
			d.enqueue(queueItem{kind: triggerTemporalKind, temporal: match, patName: name})
		}
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case item := <-d.queue:
			d.process(item)
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case item := <-d.queue:
			d.process(item)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(item queueItem) {
	switch item.kind {
	case barrierKind:
		close(item.barrier)
	case triggerEventKind:
		d.processEvent(item.event)
	case triggerFactKind:
		d.processFactChange(item.factChg)
	case triggerTimerKind:
		d.processTimerFire(item.timerFir)
	case triggerTemporalKind:
		d.processTemporalMatch(item.patName, item.temporal)
	}
}

func (d *Dispatcher) processEvent(e *event.Event) {
	rules := d.Rules.ByEventTopic(e.Topic)
	trigger := &evalctx.TriggerInstance{Kind: evalctx.TriggerEvent, Event: e}
	for _, r := range rules {
		d.runRule(r, trigger, e.CorrelationID, e.CausationID)
	}
}

func (d *Dispatcher) processFactChange(c fact.Change) {
	rules := d.Rules.ByFactPattern(c.Key)
	trigger := &evalctx.TriggerInstance{
		Kind:         evalctx.TriggerFact,
		FactKey:      c.Key,
		FactValue:    c.NewValue,
		FactPrevious: c.PreviousValue,
	}
	correlationID := d.IDFn("corr")
	for _, r := range rules {
		d.runRule(r, trigger, correlationID, "")
	}
}

func (d *Dispatcher) processTimerFire(f timer.Fire) {
	d.Traces.Record(trace.Entry{
		Type:          trace.TypeTimerExpired,
		CorrelationID: f.CorrelationID,
		TimestampMs:   d.now(),
		Detail:        map[string]interface{}{"name": f.Name},
	})

	rules := d.Rules.ByTimerName(f.Name)
	trigger := &evalctx.TriggerInstance{Kind: evalctx.TriggerTimer, TimerName: f.Name}
	correlationID := f.CorrelationID
	if correlationID == "" {
		correlationID = d.IDFn("corr")
	}
	for _, r := range rules {
		d.runRule(r, trigger, correlationID, "")
	}
	if f.OnExpire.Topic != "" {
		cause := &event.Cause{CorrelationID: f.CorrelationID}
		ev := d.Bus.Prepare(&event.Event{Topic: f.OnExpire.Topic, Data: f.OnExpire.Data, Source: "timer"}, cause, d.IDFn)
		d.Bus.Publish(ev)
	}
}

func (d *Dispatcher) processTemporalMatch(patternName string, m temporal.Match) {
	d.temporalMu.Lock()
	ruleID := d.temporalRuleID[patternName]
	d.temporalMu.Unlock()

	r := d.Rules.Get(ruleID)
	if r == nil || !d.Rules.IsRuleActive(r) {
		return
	}
	trigger := &evalctx.TriggerInstance{
		Kind:                evalctx.TriggerTemporal,
		TemporalPatternName: patternName,
		TemporalGroupKey:    m.GroupKey,
		MatchedEvents:       m.MatchedEvents,
	}
	d.runRule(r, trigger, d.IDFn("corr"), "")
}

// runRule resolves lookups, evaluates conditions, and runs actions for one
// rule against one trigger, recording trace entries throughout (§4.4 steps
// 1-5, §4.10).
func (d *Dispatcher) runRule(r *ruleset.Rule, trigger *evalctx.TriggerInstance, correlationID, causationID string) {
	ectx := evalctx.New(trigger, d.Facts, correlationID, causationID)

	d.Traces.Record(trace.Entry{
		Type:          trace.TypeRuleTriggered,
		RuleID:        r.ID,
		RuleName:      r.Name,
		CorrelationID: correlationID,
		TimestampMs:   d.now(),
		Detail:        map[string]interface{}{"triggerKind": trigger.Kind},
	})

	ctx := context.Background()
	if d.Lookups != nil {
		if err := d.Lookups.ResolveAll(ctx, r.Lookups, ectx); err != nil {
			d.Log.WithError(err).WithField("rule", r.ID).Warn("lookup resolution failed")
			d.Traces.Record(trace.Entry{
				Type:          trace.TypeRuleSkipped,
				RuleID:        r.ID,
				RuleName:      r.Name,
				CorrelationID: correlationID,
				TimestampMs:   d.now(),
				Detail:        map[string]interface{}{"reason": "lookup_failed", "error": err.Error()},
			})
			return
		}
	}

	start := d.now()
	passed, results := d.Evaluator.EvaluateAll(r.Conditions, ectx)
	duration := float64(d.now() - start)

	for _, cr := range results {
		p := cr.Passed
		d.Traces.Record(trace.Entry{
			Type:          trace.TypeConditionChecked,
			RuleID:        r.ID,
			RuleName:      r.Name,
			CorrelationID: correlationID,
			TimestampMs:   d.now(),
			DurationMs:    cr.DurationMs,
			Passed:        &p,
			Detail: map[string]interface{}{
				"expected": cr.ExpectedValue,
				"actual":   cr.ActualValue,
				"operator": cr.Operator,
			},
		})
	}

	if !passed {
		d.Traces.Record(trace.Entry{
			Type:          trace.TypeRuleSkipped,
			RuleID:        r.ID,
			RuleName:      r.Name,
			CorrelationID: correlationID,
			TimestampMs:   d.now(),
			DurationMs:    duration,
			Detail:        map[string]interface{}{"reason": "conditions_not_met"},
		})
		return
	}

	d.Traces.Record(trace.Entry{
		Type:          trace.TypeRuleExecuted,
		RuleID:        r.ID,
		RuleName:      r.Name,
		CorrelationID: correlationID,
		TimestampMs:   d.now(),
		DurationMs:    duration,
		Passed:        &passed,
	})

	for _, a := range r.Actions {
		d.Traces.Record(trace.Entry{
			Type: trace.TypeActionStarted, RuleID: r.ID, RuleName: r.Name,
			CorrelationID: correlationID, TimestampMs: d.now(),
			Detail: map[string]interface{}{"kind": a.Kind},
		})

		res := d.Actions.Execute(ctx, a, ectx)

		entryType := trace.TypeActionCompleted
		if res.Status == action.StatusFailed {
			entryType = trace.TypeActionFailed
		}
		detail := res.Detail
		if res.Error != nil {
			if detail == nil {
				detail = map[string]interface{}{}
			}
			detail["error"] = res.Error.Error()
		}
		d.Traces.Record(trace.Entry{
			Type: entryType, RuleID: r.ID, RuleName: r.Name,
			CorrelationID: correlationID, TimestampMs: d.now(),
			DurationMs: res.DurationMs, Detail: detail,
		})
	}
}

func (d *Dispatcher) now() int64 {
	if d.NowFn == nil {
		return 0
	}
	return d.NowFn()
}
