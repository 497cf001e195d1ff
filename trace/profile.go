package trace

import (
	"sort"
	"sync"
)

// RuleProfile aggregates a rule's evaluation/action history for reporting
// (§4.10): evaluation count, condition pass rate, action outcome counts,
// and timing. Triggers are not counted separately.
type RuleProfile struct {
	RuleID          string
	RuleName        string
	EvaluationCount int
	PassCount       int
	FailCount       int
	ActionsRun      int
	ActionsFailed   int
	TotalDurationMs float64
}

func (p RuleProfile) PassRate() float64 {
	if p.EvaluationCount == 0 {
		return 0
	}
	return float64(p.PassCount) / float64(p.EvaluationCount)
}

func (p RuleProfile) AvgDurationMs() float64 {
	if p.EvaluationCount == 0 {
		return 0
	}
	return p.TotalDurationMs / float64(p.EvaluationCount)
}

// Profiler maintains a live RuleProfile per rule, fed by the same entries
// recorded into a Collector (it is itself a Sink).
type Profiler struct {
	mu       sync.Mutex
	profiles map[string]*RuleProfile
}

func NewProfiler() *Profiler {
	return &Profiler{profiles: make(map[string]*RuleProfile)}
}

func (p *Profiler) Publish(e Entry) {
	if e.RuleID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prof, ok := p.profiles[e.RuleID]
	if !ok {
		prof = &RuleProfile{RuleID: e.RuleID, RuleName: e.RuleName}
		p.profiles[e.RuleID] = prof
	}

	switch e.Type {
	case TypeRuleExecuted:
		prof.EvaluationCount++
		prof.TotalDurationMs += e.DurationMs
		prof.PassCount++
	case TypeRuleSkipped:
		if e.Detail != nil && e.Detail["reason"] == "conditions_not_met" {
			prof.EvaluationCount++
			prof.TotalDurationMs += e.DurationMs
			prof.FailCount++
		}
	case TypeActionCompleted:
		prof.ActionsRun++
	case TypeActionFailed:
		prof.ActionsRun++
		prof.ActionsFailed++
	}
}

// Get returns a copy of ruleID's profile, or nil if no entry for it has
// been published.
func (p *Profiler) Get(ruleID string) *RuleProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[ruleID]
	if !ok {
		return nil
	}
	cp := *prof
	return &cp
}

// All returns every tracked profile, ordered by rule id for determinism.
func (p *Profiler) All() []RuleProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RuleProfile, 0, len(p.profiles))
	for _, prof := range p.profiles {
		out = append(out, *prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Slowest returns the n profiles with the highest average duration,
// descending.
func (p *Profiler) Slowest(n int) []RuleProfile {
	all := p.All()
	sort.Slice(all, func(i, j int) bool { return all[i].AvgDurationMs() > all[j].AvgDurationMs() })
	return topN(all, n)
}

// Hottest returns the n profiles with the highest evaluation count, descending.
func (p *Profiler) Hottest(n int) []RuleProfile {
	all := p.All()
	sort.Slice(all, func(i, j int) bool { return all[i].EvaluationCount > all[j].EvaluationCount })
	return topN(all, n)
}

// LowestPassRate returns the n profiles with the lowest condition pass
// rate, ascending, excluding rules that have never evaluated.
func (p *Profiler) LowestPassRate(n int) []RuleProfile {
	all := p.All()
	evaluated := all[:0]
	for _, prof := range all {
		if prof.EvaluationCount > 0 {
			evaluated = append(evaluated, prof)
		}
	}
	sort.Slice(evaluated, func(i, j int) bool { return evaluated[i].PassRate() < evaluated[j].PassRate() })
	return topN(evaluated, n)
}

func topN(all []RuleProfile, n int) []RuleProfile {
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	return append([]RuleProfile(nil), all[:n]...)
}

// Summary is the global cross-rule rollup.
type Summary struct {
	TotalRules           int
	TotalEvaluations     int
	TotalPasses          int
	TotalActionsRun      int
	TotalActionsFailed   int
	OverallAvgDurationMs float64
}

func (p *Profiler) GlobalSummary() Summary {
	all := p.All()
	var s Summary
	s.TotalRules = len(all)
	var totalDuration float64
	for _, prof := range all {
		s.TotalEvaluations += prof.EvaluationCount
		s.TotalPasses += prof.PassCount
		s.TotalActionsRun += prof.ActionsRun
		s.TotalActionsFailed += prof.ActionsFailed
		totalDuration += prof.TotalDurationMs
	}
	if s.TotalEvaluations > 0 {
		s.OverallAvgDurationMs = totalDuration / float64(s.TotalEvaluations)
	}
	return s
}
