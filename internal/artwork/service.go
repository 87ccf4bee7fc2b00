// Package artwork keeps a square cover thumbnail of the current track for presentation consumers.
package artwork

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const coverFilename = "cover.jpg"

// Subscriber is the event queue the service listens on
type Subscriber interface {
	Subscribe() (uuid.UUID, <-chan domain.Event)
	Unsubscribe(id uuid.UUID)
}

// Options configures the artwork service
type Options struct {
	OutputDir string
	Size      int
}

// Service follows media_update events and renders the cover of each new track
type Service struct {
	logger  *zap.Logger
	fetcher *Fetcher
	events  Subscriber
	opts    Options

	mu      sync.RWMutex
	current []byte
	lastURL string

	subID  uuid.UUID
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates an artwork service
func NewService(logger *zap.Logger, fetcher *Fetcher, events Subscriber, opts Options) *Service {
	return &Service{
		logger:  logger,
		fetcher: fetcher,
		events:  events,
		opts:    opts,
	}
}

// Start subscribes to the event queue and processes events in the background
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	id, ch := s.events.Subscribe()
	s.subID = id

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range ch {
			s.handle(runCtx, e)
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the in-flight render to finish
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.events.Unsubscribe(s.subID)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Thumbnail returns the current cover as JPEG
func (s *Service) Thumbnail() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Path returns where the current cover is written
func (s *Service) Path() string {
	return filepath.Join(s.opts.OutputDir, coverFilename)
}

func (s *Service) handle(ctx context.Context, e domain.Event) {
	if e.Type != domain.EventMediaUpdate {
		return
	}
	url := e.MediaOrEmpty().ArtURL

	s.mu.Lock()
	if url == s.lastURL {
		s.mu.Unlock()
		return
	}
	s.lastURL = url
	if url == "" {
		s.current = nil
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	thumb, err := s.render(ctx, url)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to render artwork", zap.String("url", url), zap.Error(err))
		}
		s.mu.Lock()
		if s.lastURL == url {
			s.current = nil
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.lastURL == url {
		s.current = thumb
	}
	s.mu.Unlock()
}

func (s *Service) render(ctx context.Context, url string) ([]byte, error) {
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	thumb, err := Thumbnail(data, s.opts.Size)
	if err != nil {
		return nil, err
	}

	// Write then rename so readers never see a partial file
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, thumb, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artwork: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return nil, fmt.Errorf("failed to write artwork: %w", err)
	}

	s.logger.Info("Artwork updated", zap.String("path", s.Path()), zap.Int("size", len(thumb)))
	return thumb, nil
}
