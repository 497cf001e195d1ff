// Package engine wires every subsystem — the rule manager, fact store,
// event bus, matcher/dispatcher, timer manager, backward-chaining query
// engine, trace/profile/history service, and hot-reload watcher — behind
// the single programmatic control surface transports wrap (§6).
//
// Grounded on the teacher's service-composition root (cmd/*/main.go wiring
// a worker.Pool, a db connection, and a logger together); here the
// composition root is a type instead of a main func, since the engine is a
// library the way the spec's core is meant to be embedded.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rulesengine/action"
	"rulesengine/condition"
	"rulesengine/engconfig"
	"rulesengine/enginelog"
	"rulesengine/event"
	"rulesengine/fact"
	"rulesengine/match"
	"rulesengine/persist"
	"rulesengine/query"
	"rulesengine/reload"
	"rulesengine/ruleset"
	"rulesengine/timer"
	"rulesengine/trace"
)

// Stats is the snapshot returned by GetStats.
type Stats struct {
	RuleCount    int
	GroupCount   int
	FactCount    int
	EventCount   int
	TraceCount   int
	TimerCount   int
	HotReload    reload.Status
}

// Engine is the composition root: one instance per running rules engine.
type Engine struct {
	Config engconfig.EngineConfig
	Log    *enginelog.ContextLogger

	Rules      *ruleset.Manager
	Facts      *fact.Store
	EventStore *event.Store
	Bus        *event.Bus
	Timers     *timer.Manager
	Traces     *trace.Collector
	History    *trace.History
	Dispatcher *match.Dispatcher
	Query      *query.Engine
	Reload     *reload.Watcher
	Services   *condition.Registry // lookup services a caller registers into post-construction

	persistence persist.Persistence
	nowFn       func() int64
	idCounterMu sync.Mutex
	idCounter   int

	startOnce sync.Once
	stopOnce  sync.Once
}

// Options configures New beyond what EngineConfig carries: external
// services the caller wires in (persistence, lookup services, rule
// sources, a now function for deterministic tests).
type Options struct {
	Config      engconfig.EngineConfig
	Logger      *logrus.Logger
	Persistence persist.Persistence
	RuleSources []reload.RuleSource
	NowFn       func() int64
}

// New constructs a fully wired Engine. It does not start the dispatcher or
// hot-reload loop; call Start for that.
func New(opts Options) *Engine {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}

	baseLogger := opts.Logger
	if baseLogger == nil {
		baseLogger = enginelog.New(enginelog.Config{
			Level:  enginelog.Level(opts.Config.LogLevel),
			Format: opts.Config.LogFormat,
		})
	}
	ctxLog := enginelog.EngineLogger(baseLogger, opts.Config.EngineName)

	e := &Engine{
		Config:      opts.Config,
		Log:         ctxLog,
		persistence: opts.Persistence,
		nowFn:       nowFn,
	}

	e.Rules = ruleset.NewManager(nowFn, e.nextID)
	e.Facts = fact.New(ctxLog.Entry())
	e.EventStore = event.NewStore(opts.Config.EventStoreMaxEvents)
	e.Bus = event.NewBus(e.EventStore, nowFn, ctxLog.Entry())
	e.Traces = trace.NewCollector(opts.Config.TraceMaxEntries)
	e.History = trace.NewHistory(e.EventStore, e.Traces)

	resolver := condition.NewResolver(nil)
	evaluator := condition.NewEvaluator(resolver, nowFn)
	e.Services = condition.NewRegistry()
	lookups := condition.NewLookupRunner(e.Services, nil, resolver, 0, 0)
	actions := action.NewRegistry()

	e.Timers = timer.NewWithClock(func(f timer.Fire) {
		if e.Dispatcher != nil {
			e.Dispatcher.HandleTimerFire(f)
		}
	}, ctxLog.Entry(), nowFn)
	e.Timers.OnSet(func(t timer.Timer) {
		e.Traces.Record(trace.Entry{
			Type:          trace.TypeTimerSet,
			CorrelationID: t.CorrelationID,
			TimestampMs:   nowFn(),
			Detail:        map[string]interface{}{"name": t.Name, "expiresAt": t.ExpiresAt, "repeating": t.Repeating},
		})
	})
	e.Timers.OnCancel(func(name, correlationID string) {
		e.Traces.Record(trace.Entry{
			Type:          trace.TypeTimerCancelled,
			CorrelationID: correlationID,
			TimestampMs:   nowFn(),
			Detail:        map[string]interface{}{"name": name},
		})
	})

	idFn := func() string { return e.nextID("id") }
	action.RegisterDefaults(actions, resolver, e.Facts, e.Bus, e.Timers, e.Services, ctxLog.Entry(), nowFn, idFn)

	e.Dispatcher = match.NewDispatcher(e.Rules, e.Facts, e.Bus, evaluator, lookups, actions, e.Timers, e.Traces, nowFn, e.nextID, ctxLog.Entry(), 1024)

	e.Query = query.New(e.Rules, e.Facts, opts.Config.BackwardChainingMaxDepth, opts.Config.BackwardChainingMaxExploredRules)

	e.Reload = reload.New(e.Rules, opts.RuleSources, opts.Config.HotReloadIntervalMs, opts.Config.HotReloadAtomicReload, opts.Config.HotReloadValidateBeforeApply, nowFn)
	e.Reload.WaitForQueue = e.Dispatcher.WaitForProcessingQueue
	e.Reload.Audit = func(entry reload.AuditEntry) {
		e.Log.WithFields(map[string]interface{}{"type": entry.Type, "detail": entry.Detail}).Info("hot reload")
	}

	return e
}

func (e *Engine) nextID(prefix string) string {
	e.idCounterMu.Lock()
	defer e.idCounterMu.Unlock()
	e.idCounter++
	return fmt.Sprintf("%s-%d", prefix, e.idCounter)
}

// Start loads persisted state (if a Persistence adapter was configured),
// starts the dispatch goroutine, and starts the hot-reload loop.
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		if e.persistence != nil {
			exists, err := e.persistence.Exists()
			if err != nil {
				startErr = fmt.Errorf("engine: checking persisted state: %w", err)
				return
			}
			if exists {
				snap, err := e.persistence.Load()
				if err != nil {
					startErr = fmt.Errorf("engine: loading persisted state: %w", err)
					return
				}
				if err := e.Rules.Restore(snap.Rules, snap.Groups); err != nil {
					startErr = fmt.Errorf("engine: restoring persisted state: %w", err)
					return
				}
			}
		}

		e.Dispatcher.Start()
		if len(e.Reload.Sources) > 0 {
			e.Reload.Start(ctx)
		}
		e.Log.Info("engine started")
	})
	return startErr
}

// Stop drains the processing queue, stops the hot-reload loop and the
// dispatcher, and cancels every outstanding timer.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.Reload.Stop()
		e.Dispatcher.Stop()
		e.Timers.CancelAll()
		e.Log.Info("engine stopped")
	})
}

// WaitForProcessingQueue blocks until every trigger enqueued before this
// call has been processed.
func (e *Engine) WaitForProcessingQueue() { e.Dispatcher.WaitForProcessingQueue() }

// Emit publishes an externally-originated event (no cause, a fresh
// correlation id).
func (e *Engine) Emit(topic string, data map[string]interface{}) *event.Event {
	ev := e.Bus.Prepare(&event.Event{Topic: topic, Data: data, Source: "external"}, nil, func() string { return e.nextID("evt") })
	e.Bus.Publish(ev)
	return ev
}

// SetFact writes a fact directly (source "api"), notifying subscribers
// synchronously per §4.2.
func (e *Engine) SetFact(key string, value interface{}) int {
	return e.Facts.Set(key, value, "api", e.now())
}

// DeleteFact removes a fact, returning whether one existed.
func (e *Engine) DeleteFact(key string) bool { return e.Facts.Delete(key, "api") }

// GetFact returns the current fact at key, or nil.
func (e *Engine) GetFact(key string) *fact.Fact { return e.Facts.Get(key) }

// RegisterRule adds a new rule definition and persists the updated rule set
// if a Persistence adapter is configured.
func (e *Engine) RegisterRule(input ruleset.RuleInput) (*ruleset.Rule, error) {
	rule, err := e.Rules.Register(input, false)
	if err != nil {
		return nil, err
	}
	e.persistSnapshot()
	return rule, nil
}

// UnregisterRule removes a rule definition.
func (e *Engine) UnregisterRule(id string) bool {
	ok := e.Rules.Unregister(id)
	if ok {
		e.persistSnapshot()
	}
	return ok
}

// CreateGroup, UpdateGroup, DeleteGroup, EnableGroup, DisableGroup delegate
// to the rule manager's group CRUD and persist the change.
func (e *Engine) CreateGroup(name, description string, enabled bool) (*ruleset.Group, error) {
	g, err := e.Rules.CreateGroup(name, description, enabled)
	if err == nil {
		e.persistSnapshot()
	}
	return g, err
}

func (e *Engine) UpdateGroup(id string, name, description *string, enabled *bool) (*ruleset.Group, error) {
	g, err := e.Rules.UpdateGroup(id, name, description, enabled)
	if err == nil {
		e.persistSnapshot()
	}
	return g, err
}

func (e *Engine) DeleteGroup(id string) bool {
	ok := e.Rules.DeleteGroup(id)
	if ok {
		e.persistSnapshot()
	}
	return ok
}

func (e *Engine) EnableGroup(idOrName string) error {
	err := e.Rules.EnableGroup(idOrName)
	if err == nil {
		e.persistSnapshot()
	}
	return err
}

func (e *Engine) DisableGroup(idOrName string) error {
	err := e.Rules.DisableGroup(idOrName)
	if err == nil {
		e.persistSnapshot()
	}
	return err
}

// SetTimer arms a named timer and returns its handle (§4.7
// "setTimer(config, correlationId?) -> Timer"). correlationID, when
// non-empty, overrides cfg.CorrelationID and is carried onto the onExpire
// event when the timer fires.
func (e *Engine) SetTimer(cfg *ruleset.TimerConfig, correlationID string) (*timer.Timer, error) {
	if correlationID != "" {
		cfg.CorrelationID = correlationID
	}
	if err := e.Timers.Set(cfg); err != nil {
		return nil, err
	}
	return e.Timers.GetTimer(cfg.Name), nil
}

// CancelTimer cancels a named timer, returning whether one was active.
func (e *Engine) CancelTimer(name string) bool { return e.Timers.Cancel(name) }

// GetTimer returns name's live handle, or nil if it isn't armed (§4.7 "getTimer(name)").
func (e *Engine) GetTimer(name string) *timer.Timer { return e.Timers.GetTimer(name) }

// GetAllTimers returns every currently live timer (§4.7 "getAll()").
func (e *Engine) GetAllTimers() []timer.Timer { return e.Timers.GetAll() }

// GetStats returns a snapshot of the engine's size and health counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		RuleCount:  len(e.Rules.GetAll()),
		GroupCount: len(e.Rules.GetAllGroups()),
		FactCount:  e.Facts.Size(),
		EventCount: len(e.EventStore.GetAllEvents()),
		TraceCount: len(e.Traces.All()),
		TimerCount: e.Timers.Count(),
		HotReload:  e.Reload.Status(),
	}
}

func (e *Engine) persistSnapshot() {
	if e.persistence == nil {
		return
	}
	rules, groups := e.Rules.Snapshot()
	if err := e.persistence.Save(persist.Snapshot{Rules: rules, Groups: groups}); err != nil {
		e.Log.WithError(err).Error("persisting rule/group snapshot")
	}
}

func (e *Engine) now() int64 { return e.nowFn() }
