package modules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openconveyor/conveyor/pkg/dispatch"
	"github.com/openconveyor/conveyor/pkg/policy"
)

// Module pairs a module function with its identity and the capabilities it
// needs at dispatch time.
type Module struct {
	ID           string
	Description  string
	Capabilities []policy.Capability
	Fn           dispatch.Func
}

// Registry holds registered modules by id.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a registry preloaded with the built-in modules.
func NewRegistry() *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range builtins() {
		r.modules[m.ID] = m
	}
	return r
}

// Register adds a module. Re-registering an id is an error.
func (r *Registry) Register(m Module) error {
	if m.ID == "" {
		return fmt.Errorf("module id is required")
	}
	if m.Fn == nil {
		return fmt.Errorf("module %q has no function", m.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.ID]; exists {
		return fmt.Errorf("module %q already registered", m.ID)
	}
	r.modules[m.ID] = m
	return nil
}

// Get returns the module for an id.
func (r *Registry) Get(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// List returns all modules ordered by id.
func (r *Registry) List() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Request builds a dispatch request for a registered module.
func (r *Registry) Request(id string, params map[string]any) (dispatch.Request, error) {
	m, ok := r.Get(id)
	if !ok {
		return dispatch.Request{}, fmt.Errorf("unknown module %q", id)
	}
	return dispatch.Request{
		ModuleID:     m.ID,
		Params:       params,
		Capabilities: m.Capabilities,
	}, nil
}

func builtins() []Module {
	return []Module{
		{
			ID:          "demo.echo",
			Description: "Returns its parameters unchanged",
			Fn:          Echo,
		},
		{
			ID:          "demo.sleep",
			Description: "Sleeps for the given duration",
			Fn:          Sleep,
		},
		{
			ID:           "http.fetch",
			Description:  "Fetches a URL and returns status and body",
			Capabilities: []policy.Capability{policy.CapabilityNetworkPublic},
			Fn:           HTTPFetch,
		},
	}
}
