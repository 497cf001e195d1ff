// Package ruleset defines the rule/trigger/condition/action/group data
// model (§3) and the rule manager with its secondary indexes (§4.1).
//
// Heterogeneous tagged variants (Trigger, ConditionSource, Action) are
// modeled as a Kind discriminator plus the union of possible fields, the
// same shape the teacher uses for executor.Executor/Registry dispatch:
// a sealed set of cases handled by exhaustive switches rather than an open
// interface hierarchy.
package ruleset

// TriggerKind discriminates the trigger tagged variant (§3).
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerFact     TriggerKind = "fact"
	TriggerTimer    TriggerKind = "timer"
	TriggerTemporal TriggerKind = "temporal"
)

// Trigger is the stimulus that selects candidate rules.
type Trigger struct {
	Kind TriggerKind

	// Topic is used by TriggerEvent: an exact topic or a '.'-delimited wildcard pattern.
	Topic string

	// Pattern is used by TriggerFact/TriggerTimer: a ':'-delimited wildcard pattern.
	Pattern string

	// Temporal is used by TriggerTemporal.
	Temporal *TemporalPatternSpec
}

// TemporalKind discriminates the temporal pattern tagged variant (§4.8).
type TemporalKind string

const (
	TemporalSequence  TemporalKind = "sequence"
	TemporalAbsence   TemporalKind = "absence"
	TemporalCount     TemporalKind = "count"
	TemporalAggregate TemporalKind = "aggregate"
)

// AggregateFunction is the reducer applied over a numeric field (§4.8).
type AggregateFunction string

const (
	AggSum   AggregateFunction = "sum"
	AggAvg   AggregateFunction = "avg"
	AggMin   AggregateFunction = "min"
	AggMax   AggregateFunction = "max"
	AggCount AggregateFunction = "count"
)

// Comparison is the operator used to test a count/aggregate against a threshold.
type Comparison string

const (
	CompareGTE Comparison = "gte"
	CompareLTE Comparison = "lte"
	CompareEQ  Comparison = "eq"
)

// SequenceStep is one element of a sequence pattern's ordered event list.
type SequenceStep struct {
	Topic  string
	Filter []Condition // conditions evaluated against the candidate event's data
	As     string       // binds the matched event under this name in matchedEvents
}

// TemporalPatternSpec is the tagged variant for trigger{temporal}.
type TemporalPatternSpec struct {
	Kind TemporalKind

	// Name uniquely identifies this pattern instance within its matcher.
	Name string

	GroupBy string // dotted path into event data used to key independent instances

	// Sequence
	Events []SequenceStep
	Within string // duration string

	// Absence
	After    *SequenceStep
	Expected *SequenceStep

	// Count / Aggregate
	Event      *SequenceStep
	Threshold  float64
	Comparison Comparison
	Window     string
	Sliding    bool

	// Aggregate only
	Field    string
	Function AggregateFunction
}

// ConditionSourceKind discriminates the condition source tagged variant (§3).
type ConditionSourceKind string

const (
	SourceFact     ConditionSourceKind = "fact"
	SourceEvent    ConditionSourceKind = "event"
	SourceContext  ConditionSourceKind = "context"
	SourceLookup   ConditionSourceKind = "lookup"
	SourceBaseline ConditionSourceKind = "baseline"
)

// ConditionSource names where a condition reads its actual value from.
type ConditionSource struct {
	Kind ConditionSourceKind

	Pattern string // SourceFact: fact key (may itself contain interpolation)
	Field   string // SourceEvent: dotted path into event data; SourceLookup: optional field within the lookup result
	Key     string // SourceContext: variable name
	Name    string // SourceLookup: lookup name; SourceBaseline: metric name
}

// Operator is a condition's comparison operator (§3).
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMatches     Operator = "matches"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// RefPath is a ref{path} object: a reference resolved against the
// evaluation context at use time (§9 "reference resolution").
type RefPath struct {
	Path string
}

// Value is a condition's or action payload's literal-or-reference value.
type Value struct {
	Literal interface{}
	Ref     *RefPath
}

// IsRef reports whether v is a ref{path} rather than a literal.
func (v Value) IsRef() bool { return v.Ref != nil }

// Condition is one {source, operator, value} test (§3).
type Condition struct {
	Source   ConditionSource
	Operator Operator
	Value    Value
}

// ActionKind discriminates the action tagged variant (§3).
type ActionKind string

const (
	ActionSetFact     ActionKind = "set_fact"
	ActionDeleteFact  ActionKind = "delete_fact"
	ActionEmitEvent   ActionKind = "emit_event"
	ActionSetTimer    ActionKind = "set_timer"
	ActionCancelTimer ActionKind = "cancel_timer"
	ActionLog         ActionKind = "log"
	ActionCallService ActionKind = "call_service"
	ActionArithmetic  ActionKind = "arithmetic"
)

// RepeatConfig configures a repeating timer (§4.7).
type RepeatConfig struct {
	Interval string
	MaxCount int // 0 = unbounded
}

// EventSpec is the {topic, data} payload of a timer's onExpire or an
// emit_event action.
type EventSpec struct {
	Topic string
	Data  map[string]interface{}
}

// TimerConfig is the payload of a set_timer action (§4.7).
type TimerConfig struct {
	Name          string
	Duration      string
	Repeat        *RepeatConfig
	OnExpire      EventSpec
	CorrelationID string
}

// Action is a single side effect a rule performs, tagged by Kind. Fields
// unused by a given Kind are left zero.
type Action struct {
	Kind ActionKind

	// set_fact / delete_fact
	Key   string
	Value Value

	// emit_event
	Topic string
	Data  map[string]Value

	// set_timer
	TimerConfig *TimerConfig
	// cancel_timer
	TimerName string

	// log
	LogLevel   string
	LogMessage string

	// call_service (extension point)
	Service string
	Method  string
	Args    []Value

	// arithmetic (extension point): newValue = Op(currentValue, Amount)
	Op     string
	Amount Value
}

// DataRequirement names an external lookup resolved before condition
// evaluation (§4.4.1).
type DataRequirement struct {
	Name     string
	Service  string
	Method   string
	Args     []Value
	CacheTTL int64  // ms, 0 = no caching
	OnError  string // "skip" | "fail"
}

// Group is a named switch gating a cohort of rules (§3).
type Group struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Rule is the immutable-after-registration descriptor (§3).
type Rule struct {
	ID          string
	Name        string
	Description string
	Group       string
	Priority    int
	Enabled     bool
	Tags        []string

	Trigger    Trigger
	Conditions []Condition
	Actions    []Action
	Lookups    []DataRequirement

	Version   int
	CreatedAt int64
	UpdatedAt int64
}

// RuleInput is the caller-supplied shape accepted by Manager.Register;
// identical to Rule minus the bookkeeping fields the manager assigns.
type RuleInput struct {
	ID          string
	Name        string
	Description string
	Group       string
	Priority    int
	Enabled     *bool // nil defaults to true
	Tags        []string
	Trigger     Trigger
	Conditions  []Condition
	Actions     []Action
	Lookups     []DataRequirement
}
