package tts

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State tracks an engine's process lifecycle. Engines without a Lifecycle
// jump straight to StateReady on first use.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type registryEntry struct {
	engine Engine
	state  State
	// starting is non-nil while one caller runs Start; other callers
	// wait on it instead of starting a second process.
	starting chan struct{}
}

// Registry holds the configured synthesis engines by name and owns their
// lifecycle state.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	order   []string
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger, engines ...Engine) *Registry {
	r := &Registry{
		entries: make(map[string]*registryEntry, len(engines)),
		logger:  logger,
	}
	for _, eng := range engines {
		name := eng.Name()
		if _, dup := r.entries[name]; dup {
			continue
		}
		r.entries[name] = &registryEntry{engine: eng}
		r.order = append(r.order, name)
	}
	return r
}

// Names returns the engine names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the named engine.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.engine, true
}

// StateOf reports the lifecycle state of the named engine.
func (r *Registry) StateOf(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e.state
	}
	return StateNotStarted
}

// Snapshot copies the current state of every engine.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.state
	}
	return out
}

// EnsureStarted brings the named engine to StateReady, starting its
// backing process on first use. It is idempotent: a ready engine returns
// immediately, concurrent callers share one startup attempt, and a failed
// engine is retried on the next call so that a backend launched late
// still becomes usable.
func (r *Registry) EnsureStarted(ctx context.Context, name string) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[name]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("engine %q not registered: %w", name, ErrEngineUnavailable)
		}
		switch e.state {
		case StateReady:
			r.mu.Unlock()
			return nil
		case StateStarting:
			wait := e.starting
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		default: // StateNotStarted, StateFailed
			lc, managed := e.engine.(Lifecycle)
			if !managed {
				e.state = StateReady
				r.mu.Unlock()
				return nil
			}
			e.state = StateStarting
			e.starting = make(chan struct{})
			done := e.starting
			r.mu.Unlock()

			err := lc.Start(ctx)

			r.mu.Lock()
			if err != nil {
				e.state = StateFailed
				r.logger.Error("tts engine startup failed",
					zap.String("engine", name), zap.Error(err))
			} else {
				e.state = StateReady
				r.logger.Info("tts engine ready", zap.String("engine", name))
			}
			e.starting = nil
			close(done)
			r.mu.Unlock()
			if err != nil {
				return fmt.Errorf("start engine %q: %w", name, err)
			}
			return nil
		}
	}
}

// StopAll stops every managed engine and resets it to StateNotStarted.
// Called once at shutdown, after the synthesis manager has drained.
func (r *Registry) StopAll() {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	for _, name := range names {
		r.mu.Lock()
		e := r.entries[name]
		state := e.state
		r.mu.Unlock()
		lc, managed := e.engine.(Lifecycle)
		if !managed || state == StateNotStarted {
			continue
		}
		if err := lc.Stop(); err != nil {
			r.logger.Warn("tts engine stop failed",
				zap.String("engine", name), zap.Error(err))
		}
		r.mu.Lock()
		e.state = StateNotStarted
		r.mu.Unlock()
	}
}
