// Package action implements the action executor of §4.6: one Executor per
// ActionKind, dispatched through a Registry the way the teacher's
// executor.Registry finds the first Executor whose CanHandle matches.
package action

import (
	"context"
	"time"

	"rulesengine/evalctx"
	"rulesengine/ruleset"
)

// Status mirrors executor.ExecutionStatus's vocabulary for action outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped" // set_fact with an unresolved ref (§9)
)

// Result is one action's outcome, fed into the trace/profile service (§4.10).
type Result struct {
	Kind       ruleset.ActionKind
	Status     Status
	Detail     map[string]interface{}
	Error      error
	StartTime  time.Time
	EndTime    time.Time
	DurationMs float64
}

// Executor runs one ActionKind. Implementations must not block beyond ctx's
// deadline.
type Executor interface {
	CanHandle(a ruleset.Action) bool
	Execute(ctx context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error)
	Name() string
}

// Registry dispatches an Action to the first registered Executor whose
// CanHandle reports true, grounded on executor.Registry.Execute.
type Registry struct {
	executors []Executor
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(e Executor) {
	r.executors = append(r.executors, e)
}

// Execute finds a matching executor and runs it, producing a Result with
// timing regardless of outcome. A missing executor is reported as
// StatusFailed rather than a panic or silent no-op.
func (r *Registry) Execute(ctx context.Context, a ruleset.Action, ectx *evalctx.Context) Result {
	start := time.Now()
	res := Result{Kind: a.Kind, StartTime: start}

	var exec Executor
	for _, e := range r.executors {
		if e.CanHandle(a) {
			exec = e
			break
		}
	}

	if exec == nil {
		res.Status = StatusFailed
		res.Error = unhandledActionError(a.Kind)
		res.EndTime = time.Now()
		res.DurationMs = float64(res.EndTime.Sub(start).Milliseconds())
		return res
	}

	detail, status, err := exec.Execute(ctx, a, ectx)
	res.Detail = detail
	res.Status = status
	res.Error = err
	res.EndTime = time.Now()
	res.DurationMs = float64(res.EndTime.Sub(start).Milliseconds())
	return res
}

func unhandledActionError(kind ruleset.ActionKind) error {
	return &unhandledError{kind: kind}
}

type unhandledError struct{ kind ruleset.ActionKind }

func (e *unhandledError) Error() string {
	return "no executor registered for action kind " + string(e.kind)
}
