package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crosspost/domain/failure"

	"golang.org/x/time/rate"
)

// Info is the public description of a registered platform.
type Info struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

type entry struct {
	adapter Adapter
	limiter *rate.Limiter
}

// Registry maps platform identifiers to adapters. It is filled at startup
// and read concurrently by dispatch workers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds an adapter throttled to rps outbound calls per second.
// A non-positive rps disables throttling.
func (r *Registry) Register(a Adapter, rps float64, burst int) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("register platform: adapter without name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[a.Name()]; exists {
		return fmt.Errorf("register platform %s: already registered", a.Name())
	}
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	r.entries[a.Name()] = entry{adapter: a, limiter: limiter}
	return nil
}

// Resolve returns the adapter for platform or a ConfigurationError when none is registered.
func (r *Registry) Resolve(platform string) (Adapter, error) {
	r.mu.RLock()
	e, ok := r.entries[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, failure.New(failure.ConfigurationError, platform, "no adapter registered for platform "+platform)
	}
	return e.adapter, nil
}

func (r *Registry) Has(platform string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[platform]
	return ok
}

// Wait blocks until the platform's limiter admits one outbound call.
func (r *Registry) Wait(ctx context.Context, platform string) error {
	r.mu.RLock()
	e, ok := r.entries[platform]
	r.mu.RUnlock()
	if !ok || e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (r *Registry) Platforms() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Info{Name: name, Capabilities: e.adapter.Capabilities()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
