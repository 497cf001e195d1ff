// Package query implements the read-only backward-chaining goal-proof
// engine of §4.9: given a goal (a fact value or an event having occurred),
// search the rule graph for a chain of rules that could produce it,
// bounded by a depth limit and a rule-exploration cap, with cycle
// detection via a visited (rule, goal) stack.
//
// Grounded on the teacher's rule-graph traversal absent from executor/ (no
// teacher backward-chaining code exists); the search shape instead mirrors
// the matcher/dispatcher's candidate-then-evaluate loop in ruleset.Manager,
// applied recursively.
package query

import (
	"rulesengine/condition"
	"rulesengine/fact"
	"rulesengine/ruleset"
)

// GoalKind discriminates the query goal tagged variant.
type GoalKind string

const (
	GoalFact  GoalKind = "fact"
	GoalEvent GoalKind = "event"
)

// Goal is what the caller wants proven achievable.
type Goal struct {
	Kind GoalKind

	// GoalFact
	Key      string
	Value    interface{}
	Operator ruleset.Operator
	HasValue bool // whether Value/Operator are set, vs. a bare "key exists" goal

	// GoalEvent
	Topic string
}

// UnachievableReason explains why a branch or the whole query failed.
type UnachievableReason string

const (
	ReasonNoRules         UnachievableReason = "no_rules"
	ReasonCycleDetected   UnachievableReason = "cycle_detected"
	ReasonMaxDepth        UnachievableReason = "max_depth"
	ReasonAllPathsFailed  UnachievableReason = "all_paths_failed"
)

// NodeKind discriminates proof-tree node tagged variant.
type NodeKind string

const (
	NodeFactExists   NodeKind = "fact_exists"
	NodeRule         NodeKind = "rule"
	NodeUnachievable NodeKind = "unachievable"
)

// ConditionCheck records one condition's evaluation during proof search.
type ConditionCheck struct {
	Source    ruleset.ConditionSource
	Operator  ruleset.Operator
	Satisfied bool
}

// Node is one node of the proof tree; exactly the fields matching Kind are
// meaningful, mirroring the engine's tagged-variant convention.
type Node struct {
	Kind NodeKind

	// NodeFactExists
	FactKey      string
	CurrentValue interface{}

	// NodeRule
	RuleID     string
	RuleName   string
	Conditions []ConditionCheck
	Children   []Node

	// NodeUnachievable
	Reason  UnachievableReason
	Details string

	Satisfied bool
}

// Result is the outcome of one evaluate() call.
type Result struct {
	Achievable      bool
	Proof           Node
	ExploredRules   int
	MaxDepthReached bool
}

// Engine runs backward-chaining queries against a live rule manager and
// fact store. It never mutates either.
type Engine struct {
	Rules          *ruleset.Manager
	Facts          *fact.Store
	MaxDepth       int
	MaxExploredRules int
}

// New constructs an Engine. maxDepth and maxExploredRules of exactly zero are
// honored as explicit (a zero depth budget always fails, per §4.9); only a
// negative value falls back to the default, since callers have no other way
// to request "unset".
func New(rules *ruleset.Manager, facts *fact.Store, maxDepth, maxExploredRules int) *Engine {
	if maxDepth < 0 {
		maxDepth = 10
	}
	if maxExploredRules < 0 {
		maxExploredRules = 100
	}
	return &Engine{Rules: rules, Facts: facts, MaxDepth: maxDepth, MaxExploredRules: maxExploredRules}
}

type visitKey struct {
	ruleID string
	goal   string
}

// search carries mutable state threaded through recursive Prove calls.
type search struct {
	explored int
	visited  map[visitKey]bool
	maxDepthHit bool
}

// Evaluate proves or refutes goal, per §4.9.
func (e *Engine) Evaluate(goal Goal) Result {
	s := &search{visited: make(map[visitKey]bool)}
	node := e.prove(goal, 0, s)
	return Result{
		Achievable:      node.Satisfied,
		Proof:           node,
		ExploredRules:   s.explored,
		MaxDepthReached: s.maxDepthHit,
	}
}

func goalKey(g Goal) string {
	switch g.Kind {
	case GoalFact:
		return "fact:" + g.Key
	case GoalEvent:
		return "event:" + g.Topic
	default:
		return ""
	}
}

// prove returns a proof node for goal at the given depth, per search rules
// 1-6 of §4.9. depth is checked before any fact or rule lookup, including
// the base-case fact check, so MaxDepth=0 always fails.
func (e *Engine) prove(goal Goal, depth int, s *search) Node {
	if depth >= e.MaxDepth {
		s.maxDepthHit = true
		return Node{Kind: NodeUnachievable, Reason: ReasonMaxDepth}
	}

	if goal.Kind == GoalFact {
		if n, ok := e.checkFactLeaf(goal); ok {
			return n
		}
	}

	var candidates []*ruleset.Rule
	switch goal.Kind {
	case GoalFact:
		candidates = e.Rules.RulesProducingFact(goal.Key)
	case GoalEvent:
		candidates = e.Rules.RulesProducingEvent(goal.Topic)
	}

	if len(candidates) == 0 {
		return Node{Kind: NodeUnachievable, Reason: ReasonNoRules}
	}

	anyCycle := false
	attempted := 0
	for _, r := range candidates {
		if s.explored >= e.MaxExploredRules {
			return Node{Kind: NodeUnachievable, Reason: ReasonAllPathsFailed, Details: "exploration cap reached"}
		}
		key := visitKey{ruleID: r.ID, goal: goalKey(goal)}
		if s.visited[key] {
			anyCycle = true
			continue
		}
		s.visited[key] = true
		s.explored++
		attempted++

		node := e.proveRule(r, depth, s)
		delete(s.visited, key)

		if node.Satisfied {
			return node
		}
		if node.Kind == NodeUnachievable && node.Reason == ReasonCycleDetected {
			anyCycle = true
		}
	}

	if anyCycle && attempted == 0 {
		return Node{Kind: NodeUnachievable, Reason: ReasonCycleDetected}
	}
	return Node{Kind: NodeUnachievable, Reason: ReasonAllPathsFailed}
}

// checkFactLeaf reports whether goal is already satisfied by the live
// fact store, returning a NodeFactExists leaf when so.
func (e *Engine) checkFactLeaf(goal Goal) (Node, bool) {
	f := e.Facts.Get(goal.Key)
	if f == nil {
		return Node{}, false
	}
	satisfied := true
	if goal.HasValue {
		satisfied = evaluateValueMatch(goal.Operator, f.Value, goal.Value)
	}
	if !satisfied {
		return Node{}, false
	}
	return Node{Kind: NodeFactExists, FactKey: goal.Key, CurrentValue: f.Value, Satisfied: true}, true
}

func evaluateValueMatch(op ruleset.Operator, actual, expected interface{}) bool {
	if op == "" {
		op = ruleset.OpEq
	}
	return condition.Compare(op, actual, expected)
}

// proveRule evaluates one candidate rule as a potential producer of the
// goal: its conditions must all be satisfiable (fact conditions recurse as
// sub-goals; non-fact sources are unsatisfiable per §4.9 rule 7).
func (e *Engine) proveRule(r *ruleset.Rule, depth int, s *search) Node {
	node := Node{Kind: NodeRule, RuleID: r.ID, RuleName: r.Name, Satisfied: true}

	for _, c := range r.Conditions {
		check := ConditionCheck{Source: c.Source, Operator: c.Operator}

		switch c.Source.Kind {
		case ruleset.SourceFact:
			sub := e.prove(Goal{
				Kind:     GoalFact,
				Key:      c.Source.Pattern,
				Operator: c.Operator,
				Value:    c.Value.Literal,
				HasValue: !c.Value.IsRef(),
			}, depth+1, s)
			check.Satisfied = sub.Satisfied
			node.Children = append(node.Children, sub)
		default:
			// event/context/lookup/baseline: unsatisfiable without a live
			// trigger (§4.9 rule 7).
			check.Satisfied = false
		}

		node.Conditions = append(node.Conditions, check)
		if !check.Satisfied {
			node.Satisfied = false
		}
	}

	return node
}
