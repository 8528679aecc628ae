package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/domain/track"
	"github.com/osa030/playbridge/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig creates a filter chain with every filter enabled in
// configuration. The duplicate filter checks against tracks.
func NewChainFromConfig(cfg *config.Config, tracks TrackLister) (*Chain, error) {
	chain := NewChain()

	if cfg.IsFilterEnabled("duplicate_track_filter") {
		chain.Add(NewDuplicateTrackFilter(tracks))
	}

	// Registered filters in name order so the chain is deterministic
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.FilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", name)
		}
		chain.Add(f)
	}

	for name, fc := range cfg.Filters {
		if !fc.Enabled || name == "duplicate_track_filter" {
			continue
		}
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}

	for _, f := range chain.filters {
		zlog.Info().Msgf("filter enabled: name=%s codes=%v", f.Name(), f.ReturnCodes())
	}
	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
// Filters are only applied if they declare they apply to the given origin.
func (c *Chain) Execute(ctx context.Context, t track.Track, origin track.Origin) Result {
	for _, f := range c.filters {
		// Skip filters that don't apply to this origin
		if !f.AppliesTo(origin) {
			continue
		}

		result := f.Check(ctx, t)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected track: filter=%s track=%s code=%s", f.Name(), t.ID, result.Code)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
