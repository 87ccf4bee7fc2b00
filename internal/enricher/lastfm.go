package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

const (
	lastFMErrInvalidParams = 6 // "Track not found" is reported as invalid parameters
	maxResponseSize        = 1 << 20
)

// imageSizes orders Last.fm cover sizes from smallest to largest
var imageSizes = map[string]int{
	"small":      1,
	"medium":     2,
	"large":      3,
	"extralarge": 4,
	"mega":       5,
}

// LastFM looks up album information with the Last.fm track.getInfo method
type LastFM struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	apiKey  string
}

// LastFMOptions configures the Last.fm client
type LastFMOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewLastFM creates a new Last.fm lookup client
func NewLastFM(logger *zap.Logger, opts LastFMOptions) *LastFM {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LastFM{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
	}
}

type trackInfoResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Track   *struct {
		Album *struct {
			Title string `json:"title"`
			Image []struct {
				URL  string `json:"#text"`
				Size string `json:"size"`
			} `json:"image"`
		} `json:"album"`
	} `json:"track"`
}

// Lookup returns the album title and largest cover URL for a track.
// It returns domain.ErrTrackNotFound when Last.fm has no album for the track.
func (l *LastFM) Lookup(ctx context.Context, artist, title string) (domain.Enrichment, error) {
	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", l.apiKey)
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("autocorrect", "1")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "podlink/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("failed to read body: %w", err)
	}

	var result trackInfoResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return domain.Enrichment{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return domain.Enrichment{}, fmt.Errorf("failed to decode response: %w", err)
	}

	// Last.fm reports API errors in the body, sometimes alongside a non-200 status
	if result.Error != 0 {
		if result.Error == lastFMErrInvalidParams {
			return domain.Enrichment{}, domain.ErrTrackNotFound
		}
		return domain.Enrichment{}, fmt.Errorf("lastfm error %d: %s", result.Error, result.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Enrichment{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if result.Track == nil || result.Track.Album == nil || result.Track.Album.Title == "" {
		return domain.Enrichment{}, domain.ErrTrackNotFound
	}

	album := result.Track.Album
	var art string
	best := 0
	for _, img := range album.Image {
		if img.URL == "" {
			continue
		}
		// unknown size labels rank lowest
		rank := imageSizes[img.Size]
		if art == "" || rank > best {
			art = img.URL
			best = rank
		}
	}

	l.logger.Debug("Last.fm lookup succeeded",
		zap.String("artist", artist),
		zap.String("title", title),
		zap.String("album", album.Title))

	return domain.Enrichment{Album: album.Title, ArtURL: art}, nil
}
