package domain

import "context"

// MediaSource is the OS media-session collaborator.
// Implementations should handle D-Bus/MPRIS communication
//
//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/genricoloni/podlink/internal/domain MediaSource,Lookup,VolumeReader,Transport,Conn
type MediaSource interface {
	// CurrentSession returns the active session, or ok=false when nothing is playing
	CurrentSession(ctx context.Context) (SessionInfo, bool, error)

	// Properties fetches title/artist/album/art for a session
	Properties(ctx context.Context, sessionID string) (MediaProperties, error)

	// Timeline samples the session's playback position and duration
	Timeline(ctx context.Context, sessionID string) (Timeline, error)

	// Watch attaches a change-notification hook to a session.
	// fn may be invoked from a foreign goroutine and must not touch shared state.
	// The returned func detaches the hook.
	Watch(sessionID string, fn func(Notice)) (cancel func())
}

// Lookup queries the public music database for album information.
// It returns ErrTrackNotFound when the service has no match.
type Lookup interface {
	Lookup(ctx context.Context, artist, title string) (Enrichment, error)
}

// Enricher resolves album information for a track. It never fails: misses and errors yield empty strings.
type Enricher interface {
	Enrich(ctx context.Context, artist, title string) Enrichment
}

// VolumeReader reads the system master volume as 0-100, or VolumeUnavailable
type VolumeReader interface {
	Volume(ctx context.Context) int
}

// Transport provides wireless discovery and connection primitives
type Transport interface {
	// Scan looks for a peripheral advertising name until ctx expires.
	// found=false with a nil error means the device is simply not around.
	Scan(ctx context.Context, name string) (address string, found bool, err error)

	// Connect opens a connection to a previously scanned peripheral
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is one live peripheral connection
type Conn interface {
	// Write sends a payload to the metadata characteristic
	Write(ctx context.Context, payload []byte) error

	// Disconnected is closed when the link drops for any reason
	Disconnected() <-chan struct{}

	// Close tears the connection down
	Close() error
}

// Link is the connection view used by senders
type Link interface {
	IsConnected() bool
	Send(ctx context.Context, payload []byte) error
}

// Publisher accepts events for presentation consumers
type Publisher interface {
	Publish(e Event)
}
