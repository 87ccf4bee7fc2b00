// Package engine coordinates session tracking, telemetry and the peripheral link.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/genricoloni/podlink/internal/payload"
	"github.com/genricoloni/podlink/internal/telemetry"
	"github.com/genricoloni/podlink/internal/tracker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Link is the peripheral connection as seen by the engine
type Link interface {
	domain.Link
	Connect(ctx context.Context) (bool, error)
	Close()
}

// Options holds the loop cadences
type Options struct {
	ReconnectInterval time.Duration
	PollInterval      time.Duration
	VolumeInterval    time.Duration
	TimelineInterval  time.Duration
}

// Engine runs the link reconnect loop, the session tracker and both telemetry samplers,
// and routes their output to the peripheral and to presentation consumers.
type Engine struct {
	logger    *zap.Logger
	source    domain.MediaSource
	enricher  domain.Enricher
	volume    domain.VolumeReader
	link      Link
	publisher domain.Publisher
	opts      Options

	store    *Store
	tracker  *tracker.Tracker
	volumes  *telemetry.VolumeSampler
	timeline *telemetry.TimelineSampler

	// sendMu orders state updates with the payload and event built from them
	sendMu sync.Mutex
	// generation counts track changes; guarded by sendMu
	generation uint64
	// sampledGen is the generation the pending timeline sample was read under; guarded by sendMu
	sampledGen uint64

	cancel context.CancelFunc
	done   chan error
}

// NewEngine creates a new coordination engine
func NewEngine(
	logger *zap.Logger,
	source domain.MediaSource,
	enricher domain.Enricher,
	volume domain.VolumeReader,
	link Link,
	publisher domain.Publisher,
	opts Options,
) *Engine {
	e := &Engine{
		logger:    logger,
		source:    source,
		enricher:  enricher,
		volume:    volume,
		link:      link,
		publisher: publisher,
		opts:      opts,
		store:     NewStore(),
	}
	e.tracker = tracker.New(logger, source, e.handleChange, opts.PollInterval)
	e.volumes = telemetry.NewVolumeSampler(volume, link, e.emitVolume, opts.VolumeInterval)
	e.timeline = telemetry.NewTimelineSampler(e.readTimeline, link, e.emitTimeline, opts.TimelineInterval)
	return e
}

// State returns the current playback state snapshot
func (e *Engine) State() domain.PlaybackState {
	return e.store.Snapshot()
}

// Start launches the engine's loops in the background.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan error, 1)
	go func() { e.done <- e.Run(runCtx) }()
	return nil
}

// Run blocks until ctx is cancelled or a loop fails
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runLink(ctx) })
	g.Go(func() error { return e.tracker.Run(ctx) })
	g.Go(func() error { return e.volumes.Run(ctx) })
	g.Go(func() error { return e.timeline.Run(ctx) })
	return g.Wait()
}

// Stop cancels every loop, waits for them to exit and drops the peripheral connection
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	var err error
	select {
	case runErr := <-e.done:
		err = multierr.Append(err, runErr)
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	e.link.Close()
	if err == nil {
		e.logger.Info("Engine stopped")
	}
	return err
}

// runLink retries the connection on a fixed interval whenever the link is down
func (e *Engine) runLink(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.ReconnectInterval)
	defer ticker.Stop()

	for {
		if !e.link.IsConnected() {
			ok, err := e.link.Connect(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Warn("Peripheral connection attempt failed", zap.Error(err))
			}
			if ok {
				e.resync(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// resync brings a freshly connected peripheral up to date with the current state
func (e *Engine) resync(ctx context.Context) {
	vol := e.volume.Volume(ctx)

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	state := e.store.Update(func(s *domain.PlaybackState) { s.VolumePercent = vol })
	e.send(ctx, payload.Encode(state))
	e.publish(domain.VolumeEvent(vol))
}

// handleChange runs on the tracker goroutine, so track updates leave in detection order
func (e *Engine) handleChange(ctx context.Context, c tracker.Change) {
	if c.Ended {
		e.logger.Info("Playback ended")
		e.sendMu.Lock()
		defer e.sendMu.Unlock()
		e.generation++
		state := e.store.Update(func(s *domain.PlaybackState) {
			s.ActiveSessionID = ""
			s.Track = domain.TrackMetadata{}
			s.Timeline = domain.Timeline{}
		})
		e.send(ctx, payload.Cleared())
		e.publish(domain.MediaEvent(state))
		return
	}

	track := e.buildTrack(ctx, c.Properties)
	e.logger.Info("New track detected",
		zap.String("session", c.SessionID),
		zap.String("title", track.Title),
		zap.String("artist", track.Artist),
		zap.String("album", track.Album))

	// Re-sample inline so the first payload for the track is complete
	timeline, err := e.source.Timeline(ctx, c.SessionID)
	if err != nil {
		e.logger.Debug("Timeline unavailable", zap.String("session", c.SessionID), zap.Error(err))
		timeline = domain.Timeline{}
	}
	vol := e.volume.Volume(ctx)

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	e.generation++
	state := e.store.Update(func(s *domain.PlaybackState) {
		s.ActiveSessionID = c.SessionID
		s.Track = track
		s.Timeline = timeline.Normalize()
		s.VolumePercent = vol
	})
	e.send(ctx, payload.Encode(state))
	e.publish(domain.MediaEvent(state))
}

// buildTrack merges the player's properties with the looked-up album information.
// The player's own album and http(s) art are used when the lookup has nothing.
func (e *Engine) buildTrack(ctx context.Context, props domain.MediaProperties) domain.TrackMetadata {
	enrichment := e.enricher.Enrich(ctx, props.Artist, props.Title)
	track := domain.TrackMetadata{
		Title:  props.Title,
		Artist: props.Artist,
		Album:  enrichment.Album,
		ArtURL: enrichment.ArtURL,
	}
	if track.Album == "" {
		track.Album = props.Album
	}
	if track.ArtURL == "" && isRemote(props.ArtURL) {
		track.ArtURL = props.ArtURL
	}
	return track
}

func (e *Engine) emitVolume(ctx context.Context, vol int) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	state := e.store.Update(func(s *domain.PlaybackState) { s.VolumePercent = vol })
	if state.HasTrack() {
		e.send(ctx, payload.Encode(state))
	}
	e.publish(domain.VolumeEvent(vol))
}

// readTimeline samples the active session and remembers which track the sample belongs to
func (e *Engine) readTimeline(ctx context.Context) (domain.Timeline, bool) {
	e.sendMu.Lock()
	sessionID := e.store.Snapshot().ActiveSessionID
	e.sampledGen = e.generation
	e.sendMu.Unlock()

	if sessionID == "" {
		return domain.Timeline{}, false
	}
	t, err := e.source.Timeline(ctx, sessionID)
	if err != nil {
		e.logger.Debug("Timeline unavailable", zap.String("session", sessionID), zap.Error(err))
		return domain.Timeline{}, false
	}
	return t.Normalize(), true
}

// emitTimeline drops samples read before the latest track change
func (e *Engine) emitTimeline(ctx context.Context, t domain.Timeline) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.sampledGen != e.generation {
		e.logger.Debug("Discarding timeline sampled before a track change")
		return
	}
	state := e.store.Update(func(s *domain.PlaybackState) {
		if s.ActiveSessionID != "" {
			s.Timeline = t
		}
	})
	if state.HasTrack() {
		e.send(ctx, payload.Encode(state))
	}
	e.publish(domain.ProgressEvent(t))
}

// send never fails upward: a lost write is repaired by the next update
func (e *Engine) send(ctx context.Context, data []byte) {
	err := e.link.Send(ctx, data)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case domain.IsLinkLost(err):
		e.logger.Warn("Peripheral dropped during write", zap.Error(err))
	default:
		e.logger.Warn("Failed to send payload", zap.Error(err))
	}
}

func (e *Engine) publish(ev domain.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
