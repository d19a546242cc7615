package provider

import (
	"sync"

	"github.com/kilnlabs/sessiond/internal/engineerr"
)

// Registry is a Factory backed by a fixed, explicitly-registered map of
// named providers. Profile names are caller-defined (e.g. "fast",
// "reasoning-heavy"); an empty profile resolves to the configured default.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Provider
	profiles map[string]string // profile -> provider name
	def      string
}

// NewRegistry builds an empty registry; defaultProvider names the provider
// an empty profile resolves to.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		byName:   make(map[string]Provider),
		profiles: make(map[string]string),
		def:      defaultProvider,
	}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name()] = p
}

// BindProfile maps a profile name onto a registered provider name.
func (r *Registry) BindProfile(profile, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile] = providerName
}

// Names lists every registered provider name, for model.list.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// GetProvider resolves profile to a Provider; an empty profile uses the
// registry's default provider. Unknown profiles/providers fail fast.
func (r *Registry) GetProvider(profile string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := profile
	if name == "" {
		name = r.def
	} else if bound, ok := r.profiles[name]; ok {
		name = bound
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, engineerr.InvalidParams("unknown provider: " + name).WithData("reason", "unknown_provider")
	}
	return p, nil
}
