// Package timer implements the named timer manager of §4.7: one-shot and
// repeating timers that fire an onExpire event back into the engine.
//
// Grounded on the teacher's worker.Pool goroutine-per-job lifecycle
// (worker/pool.go), simplified to one goroutine per named timer since the
// engine's timer set is name-addressed rather than a bounded worker pool.
package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rulesengine/pattern"
	"rulesengine/ruleset"
)

// Fire is delivered when a timer expires; the caller (the engine
// coordinator) turns it into an emitted event per the timer's OnExpire spec,
// carrying forward the correlation id active when the timer was armed.
type Fire struct {
	Name          string
	OnExpire      ruleset.EventSpec
	Count         int // 1-based repeat count, always 1 for one-shot timers
	CorrelationID string
}

// Timer is the handle returned by Set and GetTimer describing one live
// timer's identity, next expiry, and inherited correlation id (§4.7).
type Timer struct {
	Name          string
	CorrelationID string
	ExpiresAt     int64 // unix millis of the next fire
	Repeating     bool
}

type liveTimer struct {
	cancel        chan struct{}
	once          sync.Once
	name          string
	correlationID string

	mu        sync.Mutex
	expiresAt int64
	repeating bool
}

func (t *liveTimer) stop() {
	t.once.Do(func() { close(t.cancel) })
}

func (t *liveTimer) snapshot() Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Timer{Name: t.name, CorrelationID: t.correlationID, ExpiresAt: t.expiresAt, Repeating: t.repeating}
}

func (t *liveTimer) setExpiry(expiresAt int64, repeating bool) {
	t.mu.Lock()
	t.expiresAt = expiresAt
	t.repeating = repeating
	t.mu.Unlock()
}

// Manager tracks live timers by name; setting a timer under a name already
// in use cancels the previous one first (§4.7 "replace-by-name").
type Manager struct {
	mu     sync.Mutex
	timers map[string]*liveTimer
	onFire func(Fire)
	nowFn  func() int64
	log    *logrus.Entry

	// onSet/onCancel notify the caller of arm/cancel lifecycle events for
	// trace recording (timer_set/timer_cancelled, §4.10); nil is a no-op.
	onSet    func(Timer)
	onCancel func(name, correlationID string)
}

func New(onFire func(Fire), log *logrus.Entry) *Manager {
	return NewWithClock(onFire, log, func() int64 { return time.Now().UnixMilli() })
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(onFire func(Fire), log *logrus.Entry, nowFn func() int64) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		timers: make(map[string]*liveTimer),
		onFire: onFire,
		nowFn:  nowFn,
		log:    log.WithField("component", "timer_manager"),
	}
}

// OnSet registers a callback invoked every time a timer is armed or re-armed.
func (m *Manager) OnSet(fn func(Timer)) { m.onSet = fn }

// OnCancel registers a callback invoked every time a timer is explicitly cancelled.
func (m *Manager) OnCancel(fn func(name, correlationID string)) { m.onCancel = fn }

// Set starts a timer named cfg.Name, canceling any existing timer of the
// same name first. cfg.Repeat, if set, re-arms after each fire up to
// MaxCount times (0 = unbounded) until Cancel is called. cfg.CorrelationID,
// if set, is carried onto the Fire delivered when the timer expires.
func (m *Manager) Set(cfg *ruleset.TimerConfig) error {
	d, err := parseDuration(cfg.Duration)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.timers[cfg.Name]; ok {
		existing.stop()
	}
	lt := &liveTimer{cancel: make(chan struct{}), name: cfg.Name, correlationID: cfg.CorrelationID}
	lt.setExpiry(m.nowFn()+d.Milliseconds(), cfg.Repeat != nil)
	m.timers[cfg.Name] = lt
	m.mu.Unlock()

	if m.onSet != nil {
		m.onSet(lt.snapshot())
	}

	go m.run(cfg, d, lt)
	return nil
}

func (m *Manager) run(cfg *ruleset.TimerConfig, d time.Duration, lt *liveTimer) {
	count := 0
	maxCount := 0
	var interval time.Duration
	repeating := cfg.Repeat != nil
	if repeating {
		maxCount = cfg.Repeat.MaxCount
		var err error
		interval, err = parseDuration(cfg.Repeat.Interval)
		if err != nil {
			m.log.WithError(err).WithField("timer", cfg.Name).Warn("invalid repeat interval, treating as one-shot")
			repeating = false
		}
	}

	wait := d
	for {
		t := time.NewTimer(wait)
		select {
		case <-lt.cancel:
			t.Stop()
			return
		case <-t.C:
			count++
			m.onFire(Fire{Name: cfg.Name, OnExpire: cfg.OnExpire, Count: count, CorrelationID: cfg.CorrelationID})
			if !repeating {
				m.clear(cfg.Name, lt)
				return
			}
			if maxCount > 0 && count >= maxCount {
				m.clear(cfg.Name, lt)
				return
			}
			wait = interval
			lt.setExpiry(m.nowFn()+wait.Milliseconds(), true)
			if m.onSet != nil {
				m.onSet(lt.snapshot())
			}
		}
	}
}

func (m *Manager) clear(name string, lt *liveTimer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timers[name] == lt {
		delete(m.timers, name)
	}
}

// Cancel stops the named timer, if any. Returns true if a timer was
// actually cancelled.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	lt, ok := m.timers[name]
	if ok {
		delete(m.timers, name)
	}
	m.mu.Unlock()
	if ok {
		lt.stop()
		if m.onCancel != nil {
			m.onCancel(name, lt.correlationID)
		}
	}
	return ok
}

// CancelAll stops every live timer, used on engine shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	all := make([]*liveTimer, 0, len(m.timers))
	for _, lt := range m.timers {
		all = append(all, lt)
	}
	m.timers = make(map[string]*liveTimer)
	m.mu.Unlock()
	for _, lt := range all {
		lt.stop()
	}
}

// Active reports whether a timer named name is currently live.
func (m *Manager) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// Count returns the number of live timers.
func (m *Manager) Count() int {
	return m.Size()
}

// GetTimer returns the handle for the named live timer, or nil if none is
// armed under that name (§4.7 "getTimer(name)").
func (m *Manager) GetTimer(name string) *Timer {
	m.mu.Lock()
	lt, ok := m.timers[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	snap := lt.snapshot()
	return &snap
}

// GetAll returns a handle for every currently live timer (§4.7 "getAll()").
func (m *Manager) GetAll() []Timer {
	m.mu.Lock()
	all := make([]*liveTimer, 0, len(m.timers))
	for _, lt := range m.timers {
		all = append(all, lt)
	}
	m.mu.Unlock()

	out := make([]Timer, 0, len(all))
	for _, lt := range all {
		out = append(out, lt.snapshot())
	}
	return out
}

// Size returns the number of live timers (§4.7 "size").
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func parseDuration(s string) (time.Duration, error) {
	return pattern.ParseDuration(s)
}
