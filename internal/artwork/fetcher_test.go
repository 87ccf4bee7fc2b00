package artwork

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func serveImage(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}
}

func TestFetch(t *testing.T) {
	cover := []byte("\xff\xd8\xff\xe0 jpeg bytes")

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantErr  string
		wantBody []byte
		wantLen  int
	}{
		{
			name:     "Cover downloaded",
			handler:  serveImage("image/jpeg", cover),
			wantBody: cover,
		},
		{
			name:    "Image content type with parameters",
			handler: serveImage("image/png; charset=binary", []byte("png")),
			wantLen: 3,
		},
		{
			name: "Missing cover",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantErr: "unexpected status code: 404",
		},
		{
			name:    "HTML error page",
			handler: serveImage("text/html", []byte("<html>rate limited</html>")),
			wantErr: "url is not an image",
		},
		{
			name:    "Oversized image",
			handler: serveImage("image/png", bytes.Repeat([]byte{0}, maxImageSize+1)),
			wantErr: "image exceeds",
		},
		{
			name:    "Image at the size cap",
			handler: serveImage("image/png", bytes.Repeat([]byte{0}, maxImageSize)),
			wantLen: maxImageSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			data, err := NewFetcher(zap.NewNop()).Fetch(t.Context(), srv.URL+"/cover.jpg")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBody != nil && !bytes.Equal(data, tt.wantBody) {
				t.Errorf("body mismatch: got %q", data)
			}
			if tt.wantLen > 0 && len(data) != tt.wantLen {
				t.Errorf("expected %d bytes, got %d", tt.wantLen, len(data))
			}
		})
	}
}

func TestFetch_SendsUserAgent(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	if _, err := NewFetcher(zap.NewNop()).Fetch(t.Context(), srv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent != "podlink/1.0" {
		t.Errorf("unexpected User-Agent %q", agent)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(serveImage("image/jpeg", []byte("x")))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFetcher(zap.NewNop()).Fetch(ctx, srv.URL); err == nil || !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("expected a cancellation error, got %v", err)
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	fetcher := NewFetcher(zap.NewNop())
	for _, url := range []string{"file:///tmp/cover.png", "", "data:image/png;base64,AAAA"} {
		if _, err := fetcher.Fetch(t.Context(), url); err == nil {
			t.Errorf("expected %q to be rejected", url)
		}
	}
}
