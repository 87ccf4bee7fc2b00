package domain

import "math"

// PlayerStatus represents the current state of a media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
)

// VolumeUnavailable is reported when the system volume cannot be read
const VolumeUnavailable = -1

// SessionInfo identifies one application's media session.
// Sessions are compared by ID, never by handle identity.
type SessionInfo struct {
	// ID is the application/session identifier (MPRIS well-known bus name on Linux)
	ID string
	// Status is the last observed playback status
	Status PlayerStatus
	// Owner identifies the process currently serving ID (MPRIS unique bus name).
	// It changes when a player restarts under the same ID; empty when unknown.
	Owner string
}

// MediaProperties is the typed view of what the OS reports for a session.
// Every field defaults to the empty string when the player omits it.
type MediaProperties struct {
	Title  string
	Artist string
	Album  string
	ArtURL string
}

// Identity returns the dedup key for these properties
func (p MediaProperties) Identity() TrackIdentity {
	return NewTrackIdentity(p.Artist, p.Title)
}

// TrackIdentity is the change-detection key derived from artist and title.
type TrackIdentity string

const identitySeparator = "\x1f"

// NewTrackIdentity builds the identity key for an artist/title pair
func NewTrackIdentity(artist, title string) TrackIdentity {
	return TrackIdentity(artist + identitySeparator + title)
}

// Enrichment is the album information returned by the metadata lookup service.
type Enrichment struct {
	Album  string `json:"album"`
	ArtURL string `json:"art_url"`
}

// TrackMetadata contains information about the currently playing track
type TrackMetadata struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	ArtURL string `json:"art_url"`
}

// IsEmpty reports whether the metadata describes "nothing playing"
func (t TrackMetadata) IsEmpty() bool {
	return t.Title == ""
}

// Timeline is a sampled playback position. A zero duration means unknown (e.g. live streams).
type Timeline struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// Normalize enforces non-negative values and position <= duration when duration is known
func (t Timeline) Normalize() Timeline {
	if t.Position < 0 || math.IsNaN(t.Position) {
		t.Position = 0
	}
	if t.Duration < 0 || math.IsNaN(t.Duration) {
		t.Duration = 0
	}
	if t.Duration > 0 && t.Position > t.Duration {
		t.Position = t.Duration
	}
	return t
}

// PlaybackState is the merged state assembled into outbound payloads.
type PlaybackState struct {
	// ActiveSessionID is empty when no session is tracked
	ActiveSessionID string
	Track           TrackMetadata
	Timeline        Timeline
	// VolumePercent is 0-100 or VolumeUnavailable
	VolumePercent int
}

// HasTrack reports whether a track is currently known
func (s PlaybackState) HasTrack() bool {
	return !s.Track.IsEmpty()
}

// LinkState is a state of the peripheral connection
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkScanning
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkScanning:
		return "Scanning"
	case LinkConnecting:
		return "Connecting"
	case LinkConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// NoticeKind distinguishes session notifications
type NoticeKind int

const (
	// NoticeChanged means the session's media properties changed
	NoticeChanged NoticeKind = iota
	// NoticeRemoved means the session went away
	NoticeRemoved
)

// Notice is a push notification raised by the media source for a watched session.
type Notice struct {
	SessionID string
	Kind      NoticeKind
	// Owner is set on removals to the owner that went away
	Owner string
}
