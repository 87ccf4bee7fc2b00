package artwork

import (
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/genricoloni/podlink/internal/events"
	"go.uber.org/zap"
)

func mediaEvent(artURL string) domain.Event {
	return domain.MediaEvent(domain.PlaybackState{
		Track: domain.TrackMetadata{Title: "Song", Artist: "Artist", ArtURL: artURL},
	})
}

func newCoverServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	body := createTestJPEG(300, 300, color.RGBA{R: 200, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestService_Handle(t *testing.T) {
	var hits atomic.Int32
	srv := newCoverServer(t, &hits)
	dir := t.TempDir()

	s := NewService(zap.NewNop(), NewFetcher(zap.NewNop()), events.NewHub(zap.NewNop(), 1), Options{OutputDir: dir, Size: 64})
	ctx := context.Background()

	if _, ok := s.Thumbnail(); ok {
		t.Fatal("expected no thumbnail initially")
	}

	s.handle(ctx, mediaEvent(srv.URL+"/a.jpg"))
	thumb, ok := s.Thumbnail()
	if !ok || len(thumb) == 0 {
		t.Fatal("expected a thumbnail")
	}
	onDisk, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("expected %s written: %v", s.Path(), err)
	}
	if len(onDisk) != len(thumb) {
		t.Errorf("file and memory thumbnails differ")
	}

	// Same art again and unrelated events are not refetched
	s.handle(ctx, mediaEvent(srv.URL+"/a.jpg"))
	s.handle(ctx, domain.VolumeEvent(10))
	if n := hits.Load(); n != 1 {
		t.Errorf("expected one download, got %d", n)
	}

	// Failed fetch clears the stale cover
	s.handle(ctx, mediaEvent(srv.URL+"/missing.jpg"))
	if _, ok := s.Thumbnail(); ok {
		t.Error("expected no thumbnail after a failed fetch")
	}

	s.handle(ctx, mediaEvent(srv.URL+"/b.jpg"))
	if _, ok := s.Thumbnail(); !ok {
		t.Error("expected a thumbnail for the new track")
	}

	// Playback ended
	s.handle(ctx, domain.MediaEvent(domain.PlaybackState{}))
	if _, ok := s.Thumbnail(); ok {
		t.Error("expected no thumbnail after playback ended")
	}
}

func TestService_FollowsHub(t *testing.T) {
	var hits atomic.Int32
	srv := newCoverServer(t, &hits)

	hub := events.NewHub(zap.NewNop(), 8)
	s := NewService(zap.NewNop(), NewFetcher(zap.NewNop()), hub, Options{OutputDir: t.TempDir(), Size: 32})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hub.Publish(mediaEvent(srv.URL + "/cover.jpg"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Thumbnail(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := s.Thumbnail(); !ok {
		t.Error("expected the service to render artwork published on the hub")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if n := hub.Snapshot().Subscribers; n != 0 {
		t.Errorf("expected unsubscribed after stop, %d remaining", n)
	}
}
