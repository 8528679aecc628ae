package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/domain/track"
)

// SourceWithMetadata wraps a source with its metadata.
type SourceWithMetadata struct {
	Source      Source
	DisplayName string
}

// Chain tries sources in order until one has the track.
// Ids carrying a source prefix (see track.SplitID) only go to sources of
// that type.
type Chain struct {
	sources []SourceWithMetadata
}

// NewChain creates a new source chain.
func NewChain(sources []SourceWithMetadata) *Chain {
	return &Chain{
		sources: sources,
	}
}

// Sources returns the configured sources in order.
func (c *Chain) Sources() []SourceWithMetadata {
	result := make([]SourceWithMetadata, len(c.sources))
	copy(result, c.sources)
	return result
}

// Resolve returns a playable URL for trackID.
// Returns ErrNotFound when no source could resolve it.
func (c *Chain) Resolve(ctx context.Context, trackID string) (string, error) {
	var url string
	err := c.each(ctx, trackID, func(s Source, localID string) error {
		u, err := s.Resolve(ctx, localID)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// Lookup returns metadata for trackID. The returned track keeps trackID as
// its identity so it matches the queue entry it was requested for.
// Returns ErrNotFound when no source knows the track.
func (c *Chain) Lookup(ctx context.Context, trackID string) (*track.Track, error) {
	var result *track.Track
	err := c.each(ctx, trackID, func(s Source, localID string) error {
		t, err := s.Lookup(ctx, localID)
		if err != nil {
			return err
		}
		cp := *t
		cp.ID = trackID
		if cp.Source == "" {
			cp.Source = s.Name()
		}
		result = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// each calls fn for every source that may hold trackID until one succeeds.
func (c *Chain) each(ctx context.Context, trackID string, fn func(s Source, localID string) error) error {
	sourceType, localID := track.SplitID(trackID)
	if localID == "" {
		return errors.Wrap(ErrNotFound, "empty track id")
	}

	tried := 0
	for i, sm := range c.sources {
		if sourceType != "" && sm.Source.Name() != sourceType {
			continue
		}
		tried++
		zlog.Debug().Msgf("resolver: trying source: index=%d total=%d name=%s source_type=%s track=%s",
			i+1, len(c.sources), sm.DisplayName, sm.Source.Name(), trackID)

		err := fn(sm.Source, localID)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrNotFound) {
			zlog.Debug().Msgf("resolver: source does not have track: source=%s track=%s", sm.DisplayName, trackID)
			continue
		}
		zlog.Warn().Msgf("resolver: source failed, trying next: source=%s track=%s error=%v", sm.DisplayName, trackID, err)
	}

	if tried == 0 {
		return errors.Wrapf(ErrNotFound, "no source of type %q configured for %s", sourceType, trackID)
	}
	return errors.Wrapf(ErrNotFound, "%s", trackID)
}
