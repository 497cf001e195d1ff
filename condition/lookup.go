package condition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"rulesengine/dynval"
	"rulesengine/enginerr"
	"rulesengine/evalctx"
	"rulesengine/ruleset"
)

// Service is an external data source a rule's lookups array can call
// (§4.4.1). A deployment registers one Service per {service} name; Method
// selects behavior within it the way executor.Registry dispatches on Name.
type Service interface {
	Call(ctx context.Context, method string, args []interface{}) (interface{}, error)
}

// Cache is the lookup result cache's storage contract. Two backends are
// provided: an in-process map (lookupcache.Memory) and a Redis-backed one
// (lookupcache.Redis), selected per deployment per §4.4.1 and the DOMAIN
// STACK's two-backend decision.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
}

// Registry holds the named Services a rule's DataRequirements may call.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

func (r *Registry) Register(name string, s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = s
}

func (r *Registry) Get(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	return s, ok
}

// LookupRunner resolves a rule's DataRequirements before condition
// evaluation (§4.4 step 2, §4.4.1): cache lookup, singleflight dedup of
// concurrent identical calls, rate limiting per service, and the
// skip/fail onError policy.
type LookupRunner struct {
	Registry *Registry
	Cache    Cache
	Resolver *Resolver

	group     singleflight.Group
	limiters  sync.Map // service name -> *rate.Limiter
	limitRate rate.Limit
	limitBurst int
}

// NewLookupRunner constructs a runner. perServiceRPS of 0 or less disables
// rate limiting (callers pass through immediately); burst is used only
// when rate limiting is on.
func NewLookupRunner(registry *Registry, cache Cache, resolver *Resolver, perServiceRPS float64, burst int) *LookupRunner {
	return &LookupRunner{
		Registry:   registry,
		Cache:      cache,
		Resolver:   resolver,
		limitRate:  rate.Limit(perServiceRPS),
		limitBurst: burst,
	}
}

func (l *LookupRunner) limiterFor(service string) *rate.Limiter {
	if l.limitRate <= 0 {
		return nil
	}
	v, _ := l.limiters.LoadOrStore(service, rate.NewLimiter(l.limitRate, l.limitBurst))
	return v.(*rate.Limiter)
}

// ResolveAll resolves every DataRequirement into ctx.Lookups, in order,
// stopping early with an error if one fails and its onError policy is
// "fail" (default). A "skip" policy leaves that name absent from
// ctx.Lookups and continues (§4.4.1).
func (l *LookupRunner) ResolveAll(ctx context.Context, reqs []ruleset.DataRequirement, ectx *evalctx.Context) error {
	for _, req := range reqs {
		v, err := l.resolveOne(ctx, req, ectx)
		if err != nil {
			if req.OnError == "skip" {
				continue
			}
			return enginerr.Wrap(enginerr.LookupFailure, fmt.Sprintf("lookup %q failed", req.Name), err)
		}
		ectx.Lookups[req.Name] = v
	}
	return nil
}

func (l *LookupRunner) resolveOne(ctx context.Context, req ruleset.DataRequirement, ectx *evalctx.Context) (interface{}, error) {
	args := make([]interface{}, len(req.Args))
	for i, a := range req.Args {
		v, _ := l.Resolver.ResolveValue(a, ectx)
		args[i] = v
	}

	key := cacheKey(req.Service, req.Method, args)

	if req.CacheTTL > 0 && l.Cache != nil {
		if v, ok := l.Cache.Get(key); ok {
			return v, nil
		}
	}

	svc, ok := l.Registry.Get(req.Service)
	if !ok {
		return nil, enginerr.NotFoundf("lookup service %q not registered", req.Service)
	}

	if lim := l.limiterFor(req.Service); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err, _ := l.group.Do(key, func() (interface{}, error) {
		return svc.Call(ctx, req.Method, args)
	})
	if err != nil {
		return nil, err
	}

	if req.CacheTTL > 0 && l.Cache != nil {
		l.Cache.Set(key, result, time.Duration(req.CacheTTL)*time.Millisecond)
	}
	return result, nil
}

func cacheKey(service, method string, args []interface{}) string {
	return service + "::" + method + "::" + dynval.Canonical(args)
}
