// Package reload implements the hot-reload watcher of §4.11: periodically
// load rule sources, diff against the currently tracked set by a stable
// content hash, validate, drain the engine's processing queue, and apply
// the diff to the live rule manager.
//
// Grounded on the teacher's periodic polling idiom (nothing in the teacher
// watches rule files specifically; the closest analogue is its env-driven
// config.EnvConfig load-once-at-startup pattern, generalized here into a
// ticker-driven reload loop the way the pack's YAML-config-consuming
// services structure a periodic refresh).
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rulesengine/dynval"
	"rulesengine/ruleset"
)

// RuleSource loads a batch of rule definitions from wherever it keeps them.
type RuleSource interface {
	Name() string
	LoadRules(ctx context.Context) ([]ruleset.RuleInput, error)
}

// AuditEntry records one watcher lifecycle event (§4.11 step 6).
type AuditEntry struct {
	Type        string // hot_reload_started | hot_reload_completed | hot_reload_failed
	TimestampMs int64
	Detail      map[string]interface{}
}

// Diff is the outcome of comparing a freshly loaded rule set against the
// currently tracked hashes.
type Diff struct {
	Added    []ruleset.RuleInput
	Removed  []string
	Modified []ruleset.RuleInput
}

// Status reports the watcher's running state (§6 engine control surface).
type Status struct {
	Running           bool
	IntervalMs        int64
	TrackedRulesCount int
	LastReloadAt      int64
	ReloadCount       int
	FailureCount      int
}

// Watcher owns the tracked-hash table and periodically reconciles the rule
// manager against one or more sources.
type Watcher struct {
	Sources             []RuleSource
	Rules               *ruleset.Manager
	IntervalMs          int64
	Atomic              bool
	ValidateBeforeApply bool
	NowFn               func() int64
	WaitForQueue        func() // e.g. match.Dispatcher.WaitForProcessingQueue; nil is a no-op
	Audit               func(AuditEntry)

	mu      sync.Mutex
	hashes  map[string]string // rule id -> content hash
	status  Status
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func New(rules *ruleset.Manager, sources []RuleSource, intervalMs int64, atomicReload, validateBeforeApply bool, nowFn func() int64) *Watcher {
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}
	return &Watcher{
		Sources:             sources,
		Rules:               rules,
		IntervalMs:          intervalMs,
		Atomic:              atomicReload,
		ValidateBeforeApply: validateBeforeApply,
		NowFn:               nowFn,
		hashes:              make(map[string]string),
		status:              Status{IntervalMs: intervalMs},
	}
}

// Start launches the periodic reload loop. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.status.Running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop halts the periodic loop. The watcher may be Start-ed again afterward.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.status.Running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	interval := time.Duration(w.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = w.Reload(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Reload runs one load-hash-diff-validate-drain-apply-audit pass (§4.11
// steps 1-6). It is safe to call directly (e.g. from tests, or an explicit
// "reload now" API) independent of the periodic loop.
func (w *Watcher) Reload(ctx context.Context) (Diff, error) {
	w.emitAudit("hot_reload_started", nil)

	merged, loadErr := w.loadAll(ctx)
	if loadErr != nil && w.Atomic {
		w.recordFailure(loadErr)
		return Diff{}, loadErr
	}

	diff, err := w.computeDiff(merged)
	if err != nil {
		w.recordFailure(err)
		return Diff{}, err
	}

	if w.ValidateBeforeApply {
		if err := w.validateBatch(&diff); err != nil {
			w.recordFailure(err)
			return Diff{}, err
		}
	}

	if w.WaitForQueue != nil {
		w.WaitForQueue()
	}

	w.apply(diff)
	w.recordSuccess(diff)
	return diff, nil
}

// loadAll merges every source's rules. In atomic mode, any source error
// aborts the whole batch; otherwise that source simply contributes nothing
// and the watcher keeps going (§4.11 step 7).
func (w *Watcher) loadAll(ctx context.Context) ([]ruleset.RuleInput, error) {
	var merged []ruleset.RuleInput
	for _, src := range w.Sources {
		rules, err := src.LoadRules(ctx)
		if err != nil {
			if w.Atomic {
				return nil, fmt.Errorf("reload: source %q: %w", src.Name(), err)
			}
			continue
		}
		merged = append(merged, rules...)
	}
	return merged, nil
}

func (w *Watcher) computeDiff(loaded []ruleset.RuleInput) (Diff, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(loaded))
	var diff Diff
	for _, input := range loaded {
		if input.ID == "" {
			return Diff{}, fmt.Errorf("reload: rule %q has no stable id, required for hot reload", input.Name)
		}
		hash, err := hashRule(input)
		if err != nil {
			return Diff{}, fmt.Errorf("reload: hashing rule %q: %w", input.ID, err)
		}
		seen[input.ID] = true

		prevHash, tracked := w.hashes[input.ID]
		switch {
		case !tracked:
			diff.Added = append(diff.Added, input)
		case prevHash != hash:
			diff.Modified = append(diff.Modified, input)
		}
	}
	for id := range w.hashes {
		if !seen[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	return diff, nil
}

// validateBatch validates every added/modified rule. In atomic mode any
// failure aborts the whole batch; otherwise invalid rules are dropped from
// the diff and everything else proceeds (§4.11 step 4, step 7).
func (w *Watcher) validateBatch(diff *Diff) error {
	valid := diff.Added[:0:0]
	for _, input := range diff.Added {
		if err := ruleset.ValidateInput(input); err != nil {
			if w.Atomic {
				return fmt.Errorf("reload: validating added rule %q: %w", input.ID, err)
			}
			continue
		}
		valid = append(valid, input)
	}
	diff.Added = valid

	validMod := diff.Modified[:0:0]
	for _, input := range diff.Modified {
		if err := ruleset.ValidateInput(input); err != nil {
			if w.Atomic {
				return fmt.Errorf("reload: validating modified rule %q: %w", input.ID, err)
			}
			continue
		}
		validMod = append(validMod, input)
	}
	diff.Modified = validMod
	return nil
}

func (w *Watcher) apply(diff Diff) {
	for _, id := range diff.Removed {
		w.Rules.Unregister(id)
	}
	for _, input := range diff.Modified {
		w.Rules.Unregister(input.ID)
		_, _ = w.Rules.Register(input, true)
	}
	for _, input := range diff.Added {
		_, _ = w.Rules.Register(input, true)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range diff.Removed {
		delete(w.hashes, id)
	}
	for _, input := range append(append([]ruleset.RuleInput{}, diff.Added...), diff.Modified...) {
		if hash, err := hashRule(input); err == nil {
			w.hashes[input.ID] = hash
		}
	}
}

func (w *Watcher) recordSuccess(diff Diff) {
	w.mu.Lock()
	w.status.LastReloadAt = w.NowFn()
	w.status.ReloadCount++
	w.status.TrackedRulesCount = len(w.hashes)
	w.mu.Unlock()

	w.emitAudit("hot_reload_completed", map[string]interface{}{
		"added":    len(diff.Added),
		"removed":  len(diff.Removed),
		"modified": len(diff.Modified),
	})
}

func (w *Watcher) recordFailure(err error) {
	w.mu.Lock()
	w.status.FailureCount++
	w.mu.Unlock()

	w.emitAudit("hot_reload_failed", map[string]interface{}{"error": err.Error()})
}

func (w *Watcher) emitAudit(eventType string, detail map[string]interface{}) {
	if w.Audit == nil {
		return
	}
	w.Audit(AuditEntry{Type: eventType, TimestampMs: w.NowFn(), Detail: detail})
}

// Status returns a snapshot of the watcher's current status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// hashRule produces a stable, key-order-independent hash of input's entire
// content (§4.11 step 2), by round-tripping through JSON into dynval's
// canonical form and then through sha256 for a short diff key.
func hashRule(input ruleset.RuleInput) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(dynval.Canonical(generic)))
	return hex.EncodeToString(sum[:]), nil
}
