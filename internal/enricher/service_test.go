package enricher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/genricoloni/podlink/internal/domain/mocks"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestService_EmptyInputSkipsLookup(t *testing.T) {
	tests := []struct {
		name   string
		artist string
		title  string
	}{
		{name: "Empty title", artist: "Artist", title: ""},
		{name: "Empty artist", artist: "", title: "Song"},
		{name: "Both empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			lookup := mocks.NewMockLookup(ctrl)
			lookup.EXPECT().Lookup(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			svc := NewService(zap.NewNop(), lookup, nil, nil)
			got := svc.Enrich(context.Background(), tt.artist, tt.title)
			if got != (domain.Enrichment{}) {
				t.Errorf("expected empty enrichment, got %+v", got)
			}
		})
	}
}

type statusLog struct {
	messages []string
}

func (l *statusLog) Publish(e domain.Event) {
	if e.Type == domain.EventStatusUpdate {
		l.messages = append(l.messages, e.Message)
	}
}

func TestService_Enrich(t *testing.T) {
	tests := []struct {
		name       string
		result     domain.Enrichment
		err        error
		expected   domain.Enrichment
		expectWarn bool
	}{
		{
			name:     "Found",
			result:   domain.Enrichment{Album: "Album", ArtURL: "http://x/y.jpg"},
			expected: domain.Enrichment{Album: "Album", ArtURL: "http://x/y.jpg"},
		},
		{
			name: "Not found is not a warning",
			err:  domain.ErrTrackNotFound,
		},
		{
			name:       "Transient failure warns",
			err:        errors.New("network error: connection refused"),
			expectWarn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			lookup := mocks.NewMockLookup(ctrl)
			lookup.EXPECT().Lookup(gomock.Any(), "Artist", "Song").Return(tt.result, tt.err).Times(1)

			core, logs := observer.New(zap.DebugLevel)
			statuses := &statusLog{}
			svc := NewService(zap.New(core), lookup, nil, statuses)

			got := svc.Enrich(context.Background(), "Artist", "Song")
			if got != tt.expected {
				t.Errorf("expected %+v, got %+v", tt.expected, got)
			}

			warnings := logs.FilterLevelExact(zap.WarnLevel).Len()
			errs := logs.FilterLevelExact(zap.ErrorLevel).Len()
			if errs != 0 {
				t.Errorf("lookup outcomes must never log at error level, got %d", errs)
			}
			if tt.expectWarn && warnings != 1 {
				t.Errorf("expected 1 warning, got %d", warnings)
			}
			if !tt.expectWarn && warnings != 0 {
				t.Errorf("expected no warnings, got %d", warnings)
			}
			if tt.expectWarn && (len(statuses.messages) != 1 || statuses.messages[0] != "Album lookup unavailable") {
				t.Errorf("expected one status update for the failure, got %v", statuses.messages)
			}
			if !tt.expectWarn && len(statuses.messages) != 0 {
				t.Errorf("expected no status updates, got %v", statuses.messages)
			}
		})
	}
}

func TestService_CachesFoundAndNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockLookup(ctrl)
	gomock.InOrder(
		lookup.EXPECT().Lookup(gomock.Any(), "Artist", "Song").
			Return(domain.Enrichment{Album: "Album"}, nil).Times(1),
		lookup.EXPECT().Lookup(gomock.Any(), "Artist", "Missing").
			Return(domain.Enrichment{}, domain.ErrTrackNotFound).Times(1),
	)

	cache := NewMemoryCache(16, time.Hour)
	svc := NewService(zap.NewNop(), lookup, cache, nil)
	ctx := context.Background()

	for range 3 {
		if got := svc.Enrich(ctx, "Artist", "Song"); got.Album != "Album" {
			t.Errorf("expected cached album, got %+v", got)
		}
		if got := svc.Enrich(ctx, "Artist", "Missing"); got != (domain.Enrichment{}) {
			t.Errorf("expected cached miss, got %+v", got)
		}
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 cache entries, got %d", cache.Len())
	}
}

func TestService_DoesNotCacheTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockLookup(ctrl)
	gomock.InOrder(
		lookup.EXPECT().Lookup(gomock.Any(), "Artist", "Song").
			Return(domain.Enrichment{}, errors.New("timeout")).Times(1),
		lookup.EXPECT().Lookup(gomock.Any(), "Artist", "Song").
			Return(domain.Enrichment{Album: "Album"}, nil).Times(1),
	)

	cache := NewMemoryCache(16, time.Hour)
	svc := NewService(zap.NewNop(), lookup, cache, nil)

	if got := svc.Enrich(context.Background(), "Artist", "Song"); got != (domain.Enrichment{}) {
		t.Errorf("expected empty enrichment on failure, got %+v", got)
	}
	if got := svc.Enrich(context.Background(), "Artist", "Song"); got.Album != "Album" {
		t.Errorf("expected retry to succeed, got %+v", got)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(4, 20*time.Millisecond)
	key := domain.NewTrackIdentity("Artist", "Song")
	cache.Set(context.Background(), key, domain.Enrichment{Album: "Album"})

	if _, ok := cache.Get(context.Background(), key); !ok {
		t.Fatal("expected fresh entry")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get(context.Background(), key); ok {
		t.Error("expected entry to expire")
	}
}
