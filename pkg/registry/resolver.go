package registry

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// Resolver answers "what is this action's contract?" with a process-lifetime
// cache. Engine-internal actions (control flow, free-text generation, chat)
// are recognized without a network round trip. Everything else goes
// exact then fuzzy against the registry, and whatever comes back, including
// "not found", is cached.
//
// The cache is guarded by a RWMutex so one resolver may serve concurrent
// validation calls.
type Resolver struct {
	client Lookup
	log    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Manifest // nil value = cached "not registered"
}

// NewResolver creates a resolver over the given registry lookup. A nil
// logger disables logging.
func NewResolver(client Lookup, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		client: client,
		log:    log,
		cache:  make(map[string]*Manifest),
	}
}

// Resolve returns the manifest for an action, or (nil, nil) for a novel
// action. Transport failures degrade to "novel"; a broken registry must
// never fail a validation pass on its own.
func (r *Resolver) Resolve(ctx context.Context, action string) (*Manifest, error) {
	if plan.IsInternalAction(action) {
		return nil, nil
	}

	key := strings.ToUpper(strings.TrimSpace(action))
	if key == "" {
		return nil, nil
	}

	r.mu.RLock()
	m, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return m, nil
	}

	m = r.lookup(ctx, action)

	r.mu.Lock()
	r.cache[key] = m
	r.mu.Unlock()
	return m, nil
}

func (r *Resolver) lookup(ctx context.Context, action string) *Manifest {
	if r.client == nil {
		return nil
	}

	m, err := r.client.Exact(ctx, action)
	if err != nil {
		r.log.Warn("registry exact lookup failed", zap.String("action", action), zap.Error(err))
	}
	if m != nil {
		return m
	}

	m, err = r.client.Fuzzy(ctx, action)
	if err != nil {
		r.log.Warn("registry fuzzy lookup failed", zap.String("action", action), zap.Error(err))
		return nil
	}
	if m == nil {
		r.log.Debug("action not registered", zap.String("action", action))
	}
	return m
}
