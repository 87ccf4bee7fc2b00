package main

import (
	"context"

	"github.com/genricoloni/podlink/internal/artwork"
	"github.com/genricoloni/podlink/internal/config"
	"github.com/genricoloni/podlink/internal/domain"
	"github.com/genricoloni/podlink/internal/engine"
	"github.com/genricoloni/podlink/internal/enricher"
	"github.com/genricoloni/podlink/internal/events"
	"github.com/genricoloni/podlink/internal/link"
	"github.com/genricoloni/podlink/internal/monitor"
	"github.com/genricoloni/podlink/internal/volume"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AppOptions is the daemon's dependency graph. It expects a *config.AppConfig and a *zap.Logger to be supplied.
var AppOptions = fx.Options(
	fx.Provide(
		newHub,
		newPublisher,
		newMediaSource,
		newLookup,
		newCache,
		newEnricher,
		newVolumeReader,
		newTransport,
		newLink,
		newEngine,
		newArtwork,
		newServer,
	),
	fx.Invoke(func(*engine.Engine, *events.Server) {}),
)

func newHub(logger *zap.Logger) *events.Hub {
	return events.NewHub(logger, events.DefaultBufferSize)
}

func newPublisher(hub *events.Hub) domain.Publisher {
	return hub
}

func newMediaSource(lc fx.Lifecycle, logger *zap.Logger) domain.MediaSource {
	src := monitor.NewMprisSource(logger)
	lc.Append(fx.Hook{
		OnStart: src.Start,
		OnStop:  src.Stop,
	})
	return src
}

func newLookup(cfg *config.AppConfig, logger *zap.Logger) domain.Lookup {
	return enricher.NewLastFM(logger, enricher.LastFMOptions{
		BaseURL: cfg.LastFM.BaseURL,
		APIKey:  cfg.LastFM.APIKey,
		Timeout: cfg.LastFM.Timeout.Duration,
	})
}

// newCache prefers Redis when configured and reachable, otherwise an in-process LRU
func newCache(lc fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) enricher.Cache {
	if cfg.Cache.RedisAddr != "" {
		rc, err := enricher.NewRedisCache(context.Background(), enricher.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL.Duration,
		})
		if err == nil {
			logger.Info("Using Redis enrichment cache", zap.String("addr", cfg.Cache.RedisAddr))
			lc.Append(fx.StopHook(rc.Close))
			return rc
		}
		logger.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
	}
	if cfg.Cache.Size == 0 {
		return nil
	}
	return enricher.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL.Duration)
}

func newEnricher(logger *zap.Logger, lookup domain.Lookup, cache enricher.Cache, publisher domain.Publisher) domain.Enricher {
	return enricher.NewService(logger, lookup, cache, publisher)
}

func newVolumeReader(logger *zap.Logger) domain.VolumeReader {
	return volume.NewReader(logger)
}

func newTransport(lc fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) domain.Transport {
	t := link.NewBluezTransport(logger, link.BluezOptions{
		Adapter:            cfg.Device.Adapter,
		CharacteristicUUID: cfg.Device.CharacteristicUUID,
	})
	lc.Append(fx.StopHook(t.Close))
	return t
}

func newLink(cfg *config.AppConfig, logger *zap.Logger, transport domain.Transport, publisher domain.Publisher) engine.Link {
	return link.NewManager(logger, transport, publisher, link.Options{
		DeviceName:  cfg.Device.Name,
		ScanTimeout: cfg.Timing.ScanTimeout.Duration,
		SettleDelay: cfg.Timing.SettleDelay.Duration,
	})
}

func newEngine(
	lc fx.Lifecycle,
	cfg *config.AppConfig,
	logger *zap.Logger,
	source domain.MediaSource,
	enrich domain.Enricher,
	reader domain.VolumeReader,
	peripheral engine.Link,
	publisher domain.Publisher,
) *engine.Engine {
	e := engine.NewEngine(logger, source, enrich, reader, peripheral, publisher, engine.Options{
		ReconnectInterval: cfg.Timing.ReconnectInterval.Duration,
		PollInterval:      cfg.Timing.PollInterval.Duration,
		VolumeInterval:    cfg.Timing.VolumeInterval.Duration,
		TimelineInterval:  cfg.Timing.TimelineInterval.Duration,
	})
	lc.Append(fx.Hook{
		OnStart: e.Start,
		OnStop:  e.Stop,
	})
	return e
}

func newArtwork(lc fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger, hub *events.Hub) events.Artwork {
	if !cfg.Artwork.Enabled {
		return nil
	}
	s := artwork.NewService(logger, artwork.NewFetcher(logger), hub, artwork.Options{
		OutputDir: cfg.Artwork.OutputDir,
		Size:      cfg.Artwork.Size,
	})
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
	return s
}

func newServer(lc fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger, hub *events.Hub, art events.Artwork) *events.Server {
	s := events.NewServer(logger, hub, art, cfg.Server.Listen)
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop: func(ctx context.Context) error {
			err := s.Stop(ctx)
			hub.Close()
			return err
		},
	})
	return s
}
