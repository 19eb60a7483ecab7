package filter

import (
	"maps-harvester/config"
	"maps-harvester/models"
)

// Filter decides which extracted entries are worth submitting for storage
type Filter struct {
	cfg config.HarvestConfig
}

// NewFilter creates a new Filter instance
func NewFilter(cfg config.HarvestConfig) *Filter {
	return &Filter{
		cfg: cfg,
	}
}

// Usable reports whether an extracted entry can become an establishment.
// Name and address form the identity, so both are required.
func (f *Filter) Usable(x models.Extracted) bool {
	if !x.Complete() {
		return false
	}

	if f.cfg.RequirePhone && x.Phone == "" {
		return false
	}

	return true
}
