package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rulesengine/ruleset"
)

// YAMLDirSource loads every *.yaml/*.yml file in a directory as a batch of
// rule definitions, grounded in the pack's YAML-driven configuration idiom
// (the teacher itself has no rule-file concept; this mirrors how the wider
// corpus' services load declarative config from a watched directory).
type YAMLDirSource struct {
	dir  string
	name string
}

func NewYAMLDirSource(dir string) *YAMLDirSource {
	return &YAMLDirSource{dir: dir, name: "yaml:" + dir}
}

func (s *YAMLDirSource) Name() string { return s.name }

func (s *YAMLDirSource) LoadRules(ctx context.Context) ([]ruleset.RuleInput, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("yamlsource: reading %s: %w", s.dir, err)
	}

	var out []ruleset.RuleInput
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("yamlsource: reading %s: %w", path, err)
		}
		var doc yamlFile
		if err := yaml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("yamlsource: parsing %s: %w", path, err)
		}
		for _, r := range doc.Rules {
			input, err := r.toRuleInput()
			if err != nil {
				return nil, fmt.Errorf("yamlsource: %s: rule %q: %w", path, r.ID, err)
			}
			out = append(out, input)
		}
	}
	return out, nil
}

type yamlFile struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Group       string          `yaml:"group"`
	Priority    int             `yaml:"priority"`
	Enabled     *bool           `yaml:"enabled"`
	Tags        []string        `yaml:"tags"`
	Trigger     yamlTrigger     `yaml:"trigger"`
	Conditions  []yamlCondition `yaml:"conditions"`
	Actions     []yamlAction    `yaml:"actions"`
	Lookups     []yamlLookup    `yaml:"lookups"`
}

type yamlTrigger struct {
	Kind     string           `yaml:"kind"`
	Topic    string           `yaml:"topic"`
	Pattern  string           `yaml:"pattern"`
	Temporal *yamlTemporal    `yaml:"temporal"`
}

type yamlTemporal struct {
	Kind       string           `yaml:"kind"`
	Name       string           `yaml:"name"`
	GroupBy    string           `yaml:"groupBy"`
	Events     []yamlSeqStep    `yaml:"events"`
	Within     string           `yaml:"within"`
	After      *yamlSeqStep     `yaml:"after"`
	Expected   *yamlSeqStep     `yaml:"expected"`
	Event      *yamlSeqStep     `yaml:"event"`
	Threshold  float64          `yaml:"threshold"`
	Comparison string           `yaml:"comparison"`
	Window     string           `yaml:"window"`
	Sliding    bool             `yaml:"sliding"`
	Field      string           `yaml:"field"`
	Function   string           `yaml:"function"`
}

type yamlSeqStep struct {
	Topic  string          `yaml:"topic"`
	Filter []yamlCondition `yaml:"filter"`
	As     string          `yaml:"as"`
}

type yamlConditionSource struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
	Field   string `yaml:"field"`
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
}

type yamlCondition struct {
	Source   yamlConditionSource `yaml:"source"`
	Operator string              `yaml:"operator"`
	Value    yaml.Node           `yaml:"value"`
}

type yamlAction struct {
	Kind        string               `yaml:"kind"`
	Key         string               `yaml:"key"`
	Value       yaml.Node            `yaml:"value"`
	Topic       string               `yaml:"topic"`
	Data        map[string]yaml.Node `yaml:"data"`
	TimerConfig *yamlTimerConfig     `yaml:"timerConfig"`
	TimerName   string               `yaml:"timerName"`
	LogLevel    string               `yaml:"logLevel"`
	LogMessage  string               `yaml:"logMessage"`
	Service     string               `yaml:"service"`
	Method      string               `yaml:"method"`
	Args        []yaml.Node          `yaml:"args"`
	Op          string               `yaml:"op"`
	Amount      yaml.Node            `yaml:"amount"`
}

type yamlTimerConfig struct {
	Name     string           `yaml:"name"`
	Duration string           `yaml:"duration"`
	Repeat   *yamlRepeat      `yaml:"repeat"`
	OnExpire yamlEventSpec    `yaml:"onExpire"`
}

type yamlRepeat struct {
	Interval string `yaml:"interval"`
	MaxCount int    `yaml:"maxCount"`
}

type yamlEventSpec struct {
	Topic string               `yaml:"topic"`
	Data  map[string]yaml.Node `yaml:"data"`
}

type yamlLookup struct {
	Name     string      `yaml:"name"`
	Service  string      `yaml:"service"`
	Method   string      `yaml:"method"`
	Args     []yaml.Node `yaml:"args"`
	CacheTTL int64       `yaml:"cacheTtlMs"`
	OnError  string      `yaml:"onError"`
}

// decodeValue turns a YAML scalar/mapping node into a ruleset.Value: a
// mapping of exactly {ref: "<path>"} is a reference, everything else is a
// literal decoded as plain Go data, with an integer scalar widened to
// float64 the way JSON-decoded numbers arrive.
func decodeValue(n yaml.Node) (ruleset.Value, error) {
	if n.Kind == 0 {
		return ruleset.Value{}, nil
	}
	if n.Kind == yaml.MappingNode && len(n.Content) == 2 {
		if n.Content[0].Value == "ref" {
			return ruleset.Value{Ref: &ruleset.RefPath{Path: n.Content[1].Value}}, nil
		}
	}
	var literal interface{}
	if err := n.Decode(&literal); err != nil {
		return ruleset.Value{}, err
	}
	if i, ok := literal.(int); ok {
		literal = float64(i)
	}
	return ruleset.Value{Literal: literal}, nil
}

func decodeValues(nodes []yaml.Node) ([]ruleset.Value, error) {
	out := make([]ruleset.Value, 0, len(nodes))
	for _, n := range nodes {
		v, err := decodeValue(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeDataMap(m map[string]yaml.Node) (map[string]ruleset.Value, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]ruleset.Value, len(m))
	for k, n := range m {
		v, err := decodeValue(n)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func decodeEventDataMap(m map[string]yaml.Node) (map[string]interface{}, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]interface{}, len(m))
	for k, n := range m {
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (c yamlCondition) toCondition() (ruleset.Condition, error) {
	val, err := decodeValue(c.Value)
	if err != nil {
		return ruleset.Condition{}, err
	}
	return ruleset.Condition{
		Source: ruleset.ConditionSource{
			Kind:    ruleset.ConditionSourceKind(c.Source.Kind),
			Pattern: c.Source.Pattern,
			Field:   c.Source.Field,
			Key:     c.Source.Key,
			Name:    c.Source.Name,
		},
		Operator: ruleset.Operator(c.Operator),
		Value:    val,
	}, nil
}

func toConditions(in []yamlCondition) ([]ruleset.Condition, error) {
	out := make([]ruleset.Condition, 0, len(in))
	for _, c := range in {
		rc, err := c.toCondition()
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (s *yamlSeqStep) toSeqStep() (*ruleset.SequenceStep, error) {
	if s == nil {
		return nil, nil
	}
	filter, err := toConditions(s.Filter)
	if err != nil {
		return nil, err
	}
	return &ruleset.SequenceStep{Topic: s.Topic, Filter: filter, As: s.As}, nil
}

func (t *yamlTemporal) toSpec() (*ruleset.TemporalPatternSpec, error) {
	if t == nil {
		return nil, nil
	}
	spec := &ruleset.TemporalPatternSpec{
		Kind:       ruleset.TemporalKind(t.Kind),
		Name:       t.Name,
		GroupBy:    t.GroupBy,
		Within:     t.Within,
		Threshold:  t.Threshold,
		Comparison: ruleset.Comparison(t.Comparison),
		Window:     t.Window,
		Sliding:    t.Sliding,
		Field:      t.Field,
		Function:   ruleset.AggregateFunction(t.Function),
	}
	for _, step := range t.Events {
		s, err := step.toSeqStep()
		if err != nil {
			return nil, err
		}
		spec.Events = append(spec.Events, *s)
	}
	var err error
	if spec.After, err = t.After.toSeqStep(); err != nil {
		return nil, err
	}
	if spec.Expected, err = t.Expected.toSeqStep(); err != nil {
		return nil, err
	}
	if spec.Event, err = t.Event.toSeqStep(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (a yamlAction) toAction() (ruleset.Action, error) {
	value, err := decodeValue(a.Value)
	if err != nil {
		return ruleset.Action{}, err
	}
	amount, err := decodeValue(a.Amount)
	if err != nil {
		return ruleset.Action{}, err
	}
	args, err := decodeValues(a.Args)
	if err != nil {
		return ruleset.Action{}, err
	}
	data, err := decodeDataMap(a.Data)
	if err != nil {
		return ruleset.Action{}, err
	}

	out := ruleset.Action{
		Kind:       ruleset.ActionKind(a.Kind),
		Key:        a.Key,
		Value:      value,
		Topic:      a.Topic,
		Data:       data,
		TimerName:  a.TimerName,
		LogLevel:   a.LogLevel,
		LogMessage: a.LogMessage,
		Service:    a.Service,
		Method:     a.Method,
		Args:       args,
		Op:         a.Op,
		Amount:     amount,
	}
	if a.TimerConfig != nil {
		onExpireData, err := decodeEventDataMap(a.TimerConfig.OnExpire.Data)
		if err != nil {
			return ruleset.Action{}, err
		}
		tc := &ruleset.TimerConfig{
			Name:     a.TimerConfig.Name,
			Duration: a.TimerConfig.Duration,
			OnExpire: ruleset.EventSpec{Topic: a.TimerConfig.OnExpire.Topic, Data: onExpireData},
		}
		if a.TimerConfig.Repeat != nil {
			tc.Repeat = &ruleset.RepeatConfig{Interval: a.TimerConfig.Repeat.Interval, MaxCount: a.TimerConfig.Repeat.MaxCount}
		}
		out.TimerConfig = tc
	}
	return out, nil
}

func (l yamlLookup) toDataRequirement() (ruleset.DataRequirement, error) {
	args, err := decodeValues(l.Args)
	if err != nil {
		return ruleset.DataRequirement{}, err
	}
	return ruleset.DataRequirement{
		Name: l.Name, Service: l.Service, Method: l.Method,
		Args: args, CacheTTL: l.CacheTTL, OnError: l.OnError,
	}, nil
}

func (r yamlRule) toRuleInput() (ruleset.RuleInput, error) {
	conditions, err := toConditions(r.Conditions)
	if err != nil {
		return ruleset.RuleInput{}, err
	}

	actions := make([]ruleset.Action, 0, len(r.Actions))
	for _, a := range r.Actions {
		act, err := a.toAction()
		if err != nil {
			return ruleset.RuleInput{}, err
		}
		actions = append(actions, act)
	}

	lookups := make([]ruleset.DataRequirement, 0, len(r.Lookups))
	for _, l := range r.Lookups {
		dr, err := l.toDataRequirement()
		if err != nil {
			return ruleset.RuleInput{}, err
		}
		lookups = append(lookups, dr)
	}

	temporal, err := r.Trigger.Temporal.toSpec()
	if err != nil {
		return ruleset.RuleInput{}, err
	}

	return ruleset.RuleInput{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Group:       r.Group,
		Priority:    r.Priority,
		Enabled:     r.Enabled,
		Tags:        r.Tags,
		Trigger: ruleset.Trigger{
			Kind:     ruleset.TriggerKind(r.Trigger.Kind),
			Topic:    r.Trigger.Topic,
			Pattern:  r.Trigger.Pattern,
			Temporal: temporal,
		},
		Conditions: conditions,
		Actions:    actions,
		Lookups:    lookups,
	}, nil
}
