package ratelimit

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry hands out one limiter per entity and applies rule reloads to all
// of them.
type Registry struct {
	namespace string
	store     Store
	opts      []Option

	mu       sync.Mutex
	rules    Rules
	limiters map[string]*Limiter
}

// NewRegistry creates a registry with the given rules.
func NewRegistry(namespace string, store Store, rules Rules, opts ...Option) *Registry {
	return &Registry{
		namespace: namespace,
		store:     store,
		opts:      opts,
		rules:     rules,
		limiters:  make(map[string]*Limiter),
	}
}

// For returns the limiter for entity. Entities without rules get a limiter
// that never limits until rules for them are loaded.
func (r *Registry) For(entity string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[entity]; ok {
		return l
	}
	l := New(r.namespace, entity, r.rules[entity], r.store, r.opts...)
	r.limiters[entity] = l
	return l
}

// Update swaps in new rules.
func (r *Registry) Update(rules Rules) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = rules
	for entity, l := range r.limiters {
		l.SetLimits(rules[entity])
	}
	log.Info().Int("entities", len(rules)).Msg("rate limit rules reloaded")
}
