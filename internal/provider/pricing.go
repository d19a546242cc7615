package provider

import "github.com/kilnlabs/sessiond/internal/config"

// Pricer resolves a cost for a usage sample, surfacing an explicit
// "unavailable" flag rather than silently reporting zero cost for an
// unrecognized model.
type Pricer struct {
	cfg *config.Config
}

// NewPricer builds a Pricer over the engine's provider/model pricing table.
func NewPricer(cfg *config.Config) *Pricer {
	return &Pricer{cfg: cfg}
}

// Cost computes a usage sample's dollar cost. ok is false when no pricing
// entry exists for providerName/modelID; callers must surface
// pricing_unavailable rather than treat the zero value as a real cost.
func (p *Pricer) Cost(providerName, modelID string, usage Usage) (cost float64, ok bool) {
	info, found := p.cfg.ModelPricing(providerName, modelID)
	if !found {
		return 0, false
	}
	million := 1_000_000.0
	cost = float64(usage.InputTokens)/million*info.InputPricePerM +
		float64(usage.OutputTokens)/million*info.OutputPricePerM
	return cost, true
}
