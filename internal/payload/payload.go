// Package payload encodes playback state into the peripheral's text wire format.
//
// A full update is seven fields joined by Delimiter:
//
//	title|artist|album|art_url|position|duration|volume
//
// The cleared payload has the same field count with every field empty.
package payload

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/genricoloni/podlink/internal/domain"
)

const (
	// Delimiter separates fields on the wire
	Delimiter = "|"
	// FieldCount is the number of fields in every payload
	FieldCount = 7

	delimiterReplacement = "/"
)

// Fields is the decoded form of a payload
type Fields struct {
	Title    string
	Artist   string
	Album    string
	ArtURL   string
	Position int
	Duration int
	Volume   int
	// Cleared is true for the "nothing playing" payload
	Cleared bool
}

// Encode builds the full-update payload for a state snapshot.
// A snapshot without a track encodes as the cleared payload.
func Encode(s domain.PlaybackState) []byte {
	if !s.HasTrack() {
		return Cleared()
	}
	t := s.Timeline.Normalize()
	fields := []string{
		sanitize(s.Track.Title),
		sanitize(s.Track.Artist),
		sanitize(s.Track.Album),
		sanitize(s.Track.ArtURL),
		strconv.Itoa(seconds(t.Position)),
		strconv.Itoa(seconds(t.Duration)),
		strconv.Itoa(s.VolumePercent),
	}
	return []byte(strings.Join(fields, Delimiter))
}

// Cleared returns the payload that tells the peripheral to blank its display
func Cleared() []byte {
	return []byte(strings.Repeat(Delimiter, FieldCount-1))
}

// Decode parses a payload produced by Encode or Cleared
func Decode(data []byte) (Fields, error) {
	parts := strings.Split(string(data), Delimiter)
	if len(parts) != FieldCount {
		return Fields{}, fmt.Errorf("payload has %d fields, want %d", len(parts), FieldCount)
	}

	blank := true
	for _, p := range parts {
		if p != "" {
			blank = false
			break
		}
	}
	if blank {
		return Fields{Cleared: true}, nil
	}

	f := Fields{
		Title:  parts[0],
		Artist: parts[1],
		Album:  parts[2],
		ArtURL: parts[3],
	}
	var err error
	if f.Position, err = atoi(parts[4]); err != nil {
		return Fields{}, fmt.Errorf("position: %w", err)
	}
	if f.Duration, err = atoi(parts[5]); err != nil {
		return Fields{}, fmt.Errorf("duration: %w", err)
	}
	if f.Volume, err = atoi(parts[6]); err != nil {
		return Fields{}, fmt.Errorf("volume: %w", err)
	}
	return f, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// seconds truncates toward zero
func seconds(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return int(v)
}

// sanitize keeps the field count fixed when metadata contains the delimiter
func sanitize(s string) string {
	return strings.ReplaceAll(s, Delimiter, delimiterReplacement)
}
