package provider

import "fmt"

// Registry resolves a model ID to the Provider that serves it, letting the
// Conversation Orchestrator pick a dialect adapter without knowing which
// vendor SDK backs it.
type Registry struct {
	providers []Provider
	byModel   map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{byModel: make(map[string]Provider)}
}

// Add registers p for every model it advertises via Models().
func (r *Registry) Add(p Provider) {
	r.providers = append(r.providers, p)
	for _, m := range p.Models() {
		r.byModel[m.ID] = p
	}
}

// Resolve returns the Provider serving model, or an error if no registered
// provider advertises it.
func (r *Registry) Resolve(model string) (Provider, error) {
	if p, ok := r.byModel[model]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("provider: no provider registered for model %q", model)
}

func (r *Registry) All() []Provider {
	return r.providers
}
