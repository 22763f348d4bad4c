package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory constructs one adapter instance. Factories close over their
// exchange config; the registry itself knows nothing about credentials.
type Factory func() (Adapter, error)

// Registry maps exchange codes to lazily constructed, cached adapter
// instances. One registry is owned by the process entry point and passed to
// everything that needs exchange capability, so tests can swap in doubles.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Adapter),
	}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Register associates an exchange code with a constructor. Registering the
// same code again overwrites the factory; an already cached instance stays
// until ClearInstances.
func (r *Registry) Register(code string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeCode(code)] = f
}

// Get returns the cached adapter for code, constructing it on first use.
// Construction is serialized under the registry lock so concurrent first
// calls cannot build duplicate instances.
func (r *Registry) Get(code string) (Adapter, error) {
	c := normalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[c]; ok {
		return inst, nil
	}
	f, ok := r.factories[c]
	if !ok {
		return nil, &Error{Code: CodeNotRegistered, Message: fmt.Sprintf("exchange adapter is not registered: %q", c)}
	}
	inst, err := f()
	if err != nil {
		return nil, fmt.Errorf("construct %s adapter: %w", c, err)
	}
	r.instances[c] = inst
	return inst, nil
}

// Codes returns the sorted registered exchange codes. Pair configs naming a
// code outside this list are rejected before scheduling.
func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]string, 0, len(r.factories))
	for c := range r.factories {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ClearInstances drops all cached instances so the next Get reconstructs
// them with fresh credentials. Only used outside trading hours.
func (r *Registry) ClearInstances() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.instances)
}
