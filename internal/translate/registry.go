package translate

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Health is the per-engine rolling state the router consults for fallback.
// QuotaRemaining is -1 for engines without a metered plan.
type Health struct {
	LastGood            time.Time
	ConsecutiveFailures int
	QuotaRemaining      int64
}

// Registry holds the configured translation engines in priority order and
// owns their health state.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	engines map[string]Engine
	health  map[string]*Health
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry builds a registry with engines in the given priority order.
func NewRegistry(logger *zap.Logger, engines ...Engine) *Registry {
	r := &Registry{
		engines: make(map[string]Engine, len(engines)),
		health:  make(map[string]*Health, len(engines)),
		logger:  logger,
		now:     time.Now,
	}
	for _, eng := range engines {
		name := eng.Name()
		if _, dup := r.engines[name]; dup {
			continue
		}
		r.order = append(r.order, name)
		r.engines[name] = eng
		r.health[name] = &Health{QuotaRemaining: -1}
	}
	return r
}

// Names returns the engine names in current priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the named engine.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.engines[name]
	return eng, ok
}

// Active returns the engine at priority position 0.
func (r *Registry) Active() (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, ErrNoEngines
	}
	return r.engines[r.order[0]], nil
}

// SetActive moves the named engine to priority position 0 for subsequent
// requests. Results already returned are unaffected.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; !ok {
		return fmt.Errorf("unknown translation engine %q", name)
	}
	reordered := make([]string, 0, len(r.order))
	reordered = append(reordered, name)
	for _, n := range r.order {
		if n != name {
			reordered = append(reordered, n)
		}
	}
	r.order = reordered
	r.logger.Info("active translation engine changed", zap.String("engine", name))
	return nil
}

// Chain returns the engines in priority order, skipping engines whose
// quota is known to be exhausted.
func (r *Registry) Chain() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Engine, 0, len(r.order))
	for _, name := range r.order {
		if h := r.health[name]; h != nil && h.QuotaRemaining == 0 {
			continue
		}
		out = append(out, r.engines[name])
	}
	return out
}

// MarkSuccess records a successful call for the named engine.
func (r *Registry) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.LastGood = r.now()
		h.ConsecutiveFailures = 0
	}
}

// MarkFailure increments the named engine's consecutive failure count.
func (r *Registry) MarkFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.ConsecutiveFailures++
	}
}

// MarkQuotaExhausted drops the named engine out of the fallback chain
// until a quota refresh reports headroom again.
func (r *Registry) MarkQuotaExhausted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.QuotaRemaining = 0
	}
	r.logger.Warn("translation engine quota exhausted", zap.String("engine", name))
}

// RecordQuota stores the remaining character quota reported by a usage
// query, restoring the engine to the chain when headroom returned.
func (r *Registry) RecordQuota(name string, remaining int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.QuotaRemaining = remaining
	}
}

// HealthSnapshot copies the current health state of every engine.
func (r *Registry) HealthSnapshot() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Health, len(r.health))
	for name, h := range r.health {
		out[name] = *h
	}
	return out
}
