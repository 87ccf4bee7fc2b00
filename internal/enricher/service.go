package enricher

import (
	"context"
	"errors"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

// Service implements domain.Enricher on top of a lookup client and an optional cache.
// It never returns an error: misses and failures both yield an empty Enrichment.
type Service struct {
	logger    *zap.Logger
	lookup    domain.Lookup
	cache     Cache
	publisher domain.Publisher
}

// NewService creates an enrichment service. cache and publisher may be nil.
// Lookup failures are reported to publisher as status updates.
func NewService(logger *zap.Logger, lookup domain.Lookup, cache Cache, publisher domain.Publisher) *Service {
	return &Service{
		logger:    logger,
		lookup:    lookup,
		cache:     cache,
		publisher: publisher,
	}
}

// Enrich returns the album title and cover URL for a track
func (s *Service) Enrich(ctx context.Context, artist, title string) domain.Enrichment {
	if artist == "" || title == "" {
		return domain.Enrichment{}
	}

	key := domain.NewTrackIdentity(artist, title)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			s.logger.Debug("Enrichment cache hit",
				zap.String("artist", artist),
				zap.String("title", title))
			return cached
		}
	}

	result, err := s.lookup.Lookup(ctx, artist, title)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTrackNotFound):
		s.logger.Debug("Track not found on lookup service",
			zap.String("artist", artist),
			zap.String("title", title))
		result = domain.Enrichment{}
	case ctx.Err() != nil:
		return domain.Enrichment{}
	default:
		// transient failures are not cached so the next change retries
		s.logger.Warn("Metadata lookup failed",
			zap.String("artist", artist),
			zap.String("title", title),
			zap.Error(err))
		if s.publisher != nil {
			s.publisher.Publish(domain.StatusEvent("Album lookup unavailable"))
		}
		return domain.Enrichment{}
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, result)
	}
	return result
}
