package action

import (
	"context"

	"rulesengine/condition"
	"rulesengine/dynval"
	"rulesengine/enginerr"
	"rulesengine/evalctx"
	"rulesengine/event"
	"rulesengine/fact"
	"rulesengine/ruleset"
	"rulesengine/timer"

	"github.com/sirupsen/logrus"
)

// kindExecutor adapts a single ActionKind + run function into an Executor,
// avoiding eight near-identical struct+CanHandle boilerplate types.
type kindExecutor struct {
	kind ruleset.ActionKind
	name string
	run  func(ctx context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error)
}

func (k *kindExecutor) CanHandle(a ruleset.Action) bool { return a.Kind == k.kind }
func (k *kindExecutor) Name() string                    { return k.name }
func (k *kindExecutor) Execute(ctx context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
	return k.run(ctx, a, ectx)
}

// SetFactExecutor handles ActionSetFact (§9: skip the write, don't fail the
// rule, when the value is a ref that resolves to undefined).
func SetFactExecutor(resolver *condition.Resolver, facts *fact.Store, nowFn func() int64) Executor {
	return &kindExecutor{
		kind: ruleset.ActionSetFact,
		name: "set_fact",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			v, ok := resolver.ResolveValue(a.Value, ectx)
			if !ok {
				return map[string]interface{}{"resolvedUndefined": true}, StatusSkipped, nil
			}
			key := resolver.Interpolate(a.Key, ectx)
			prevVersion := facts.Set(key, v, "rule", nowFn())
			return map[string]interface{}{"key": key, "value": v, "previousVersion": prevVersion}, StatusCompleted, nil
		},
	}
}

// DeleteFactExecutor handles ActionDeleteFact.
func DeleteFactExecutor(resolver *condition.Resolver, facts *fact.Store) Executor {
	return &kindExecutor{
		kind: ruleset.ActionDeleteFact,
		name: "delete_fact",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			key := resolver.Interpolate(a.Key, ectx)
			deleted := facts.Delete(key, "rule")
			return map[string]interface{}{"key": key, "deleted": deleted}, StatusCompleted, nil
		},
	}
}

// EmitEventExecutor handles ActionEmitEvent, propagating correlation and
// causation from the triggering context per §4.3.
func EmitEventExecutor(resolver *condition.Resolver, bus *event.Bus, idFn func() string) Executor {
	return &kindExecutor{
		kind: ruleset.ActionEmitEvent,
		name: "emit_event",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			topic := resolver.Interpolate(a.Topic, ectx)
			data := resolveDataMap(resolver, a.Data, ectx)

			e := &event.Event{Topic: topic, Data: data, Source: "rule"}
			cause := &event.Cause{CorrelationID: ectx.CorrelationID}
			if ectx.Trigger != nil && ectx.Trigger.Event != nil {
				cause.EventID = ectx.Trigger.Event.ID
			}
			prepared := bus.Prepare(e, cause, idFn)
			bus.Publish(prepared)
			return map[string]interface{}{"eventId": prepared.ID, "topic": prepared.Topic}, StatusCompleted, nil
		},
	}
}

func resolveDataMap(resolver *condition.Resolver, data map[string]ruleset.Value, ectx *evalctx.Context) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		resolved, ok := resolver.ResolveValue(v, ectx)
		if !ok {
			continue
		}
		out[k] = resolved
	}
	return out
}

// SetTimerExecutor handles ActionSetTimer.
func SetTimerExecutor(resolver *condition.Resolver, timers *timer.Manager) Executor {
	return &kindExecutor{
		kind: ruleset.ActionSetTimer,
		name: "set_timer",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			if a.TimerConfig == nil {
				return nil, StatusFailed, enginerr.Validationf("set_timer action missing timer config")
			}
			cfg := *a.TimerConfig
			cfg.Name = resolver.Interpolate(cfg.Name, ectx)
			cfg.CorrelationID = ectx.CorrelationID
			cfg.OnExpire.Topic = resolver.Interpolate(cfg.OnExpire.Topic, ectx)
			if cfg.OnExpire.Data != nil {
				interpolated := resolver.InterpolateDeep(toInterfaceMap(cfg.OnExpire.Data), ectx)
				cfg.OnExpire.Data, _ = interpolated.(map[string]interface{})
			}
			if err := timers.Set(&cfg); err != nil {
				return nil, StatusFailed, err
			}
			return map[string]interface{}{"name": cfg.Name}, StatusCompleted, nil
		},
	}
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	return m
}

// CancelTimerExecutor handles ActionCancelTimer.
func CancelTimerExecutor(resolver *condition.Resolver, timers *timer.Manager) Executor {
	return &kindExecutor{
		kind: ruleset.ActionCancelTimer,
		name: "cancel_timer",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			name := resolver.Interpolate(a.TimerName, ectx)
			cancelled := timers.Cancel(name)
			return map[string]interface{}{"name": name, "cancelled": cancelled}, StatusCompleted, nil
		},
	}
}

// LogExecutor handles ActionLog, writing through the shared structured logger.
func LogExecutor(resolver *condition.Resolver, log *logrus.Entry) Executor {
	return &kindExecutor{
		kind: ruleset.ActionLog,
		name: "log",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			msg := resolver.Interpolate(a.LogMessage, ectx)
			entry := log.WithField("correlationId", ectx.CorrelationID)
			switch a.LogLevel {
			case "debug":
				entry.Debug(msg)
			case "warn":
				entry.Warn(msg)
			case "error":
				entry.Error(msg)
			default:
				entry.Info(msg)
			}
			return map[string]interface{}{"message": msg}, StatusCompleted, nil
		},
	}
}

// CallServiceExecutor handles ActionCallService, the extension point for
// calling into a registered condition.Service by name (the same registry
// DataRequirements use, so a deployment wires services once).
func CallServiceExecutor(resolver *condition.Resolver, registry *condition.Registry) Executor {
	return &kindExecutor{
		kind: ruleset.ActionCallService,
		name: "call_service",
		run: func(ctx context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			svc, ok := registry.Get(a.Service)
			if !ok {
				return nil, StatusFailed, enginerr.NotFoundf("service %q not registered", a.Service)
			}
			args := make([]interface{}, len(a.Args))
			for i, v := range a.Args {
				resolved, _ := resolver.ResolveValue(v, ectx)
				args[i] = resolved
			}
			result, err := svc.Call(ctx, a.Method, args)
			if err != nil {
				return nil, StatusFailed, err
			}
			return map[string]interface{}{"result": result}, StatusCompleted, nil
		},
	}
}

// ArithmeticExecutor handles ActionArithmetic: newValue = Op(currentValue,
// amount), written back to Key. An unresolvable current value is treated as
// 0 so "increment a counter that doesn't exist yet" just works.
func ArithmeticExecutor(resolver *condition.Resolver, facts *fact.Store, nowFn func() int64) Executor {
	return &kindExecutor{
		kind: ruleset.ActionArithmetic,
		name: "arithmetic",
		run: func(_ context.Context, a ruleset.Action, ectx *evalctx.Context) (map[string]interface{}, Status, error) {
			key := resolver.Interpolate(a.Key, ectx)
			amount, ok := resolver.ResolveValue(a.Amount, ectx)
			if !ok {
				return map[string]interface{}{"resolvedUndefined": true}, StatusSkipped, nil
			}
			amountF, ok := dynval.AsFloat(amount)
			if !ok {
				return nil, StatusFailed, enginerr.Validationf("arithmetic amount is not numeric")
			}

			current := 0.0
			if existing := facts.Get(key); existing != nil {
				if f, ok := dynval.AsFloat(existing.Value); ok {
					current = f
				}
			}

			result, err := applyOp(a.Op, current, amountF)
			if err != nil {
				return nil, StatusFailed, err
			}

			facts.Set(key, result, "rule", nowFn())
			return map[string]interface{}{"key": key, "value": result}, StatusCompleted, nil
		},
	}
}

func applyOp(op string, current, amount float64) (float64, error) {
	switch op {
	case "add", "":
		return current + amount, nil
	case "sub":
		return current - amount, nil
	case "mul":
		return current * amount, nil
	case "div":
		if amount == 0 {
			return 0, enginerr.Validationf("arithmetic division by zero")
		}
		return current / amount, nil
	default:
		return 0, enginerr.Validationf("unknown arithmetic op %q", op)
	}
}

// RegisterDefaults wires every built-in action executor into registry.
func RegisterDefaults(registry *Registry, resolver *condition.Resolver, facts *fact.Store, bus *event.Bus, timers *timer.Manager, services *condition.Registry, log *logrus.Entry, nowFn func() int64, idFn func() string) {
	registry.Register(SetFactExecutor(resolver, facts, nowFn))
	registry.Register(DeleteFactExecutor(resolver, facts))
	registry.Register(EmitEventExecutor(resolver, bus, idFn))
	registry.Register(SetTimerExecutor(resolver, timers))
	registry.Register(CancelTimerExecutor(resolver, timers))
	registry.Register(LogExecutor(resolver, log))
	registry.Register(CallServiceExecutor(resolver, services))
	registry.Register(ArithmeticExecutor(resolver, facts, nowFn))
}
