package domain

// EventType tags messages sent to presentation consumers
type EventType string

const (
	EventStatusUpdate       EventType = "status_update"
	EventVolumeUpdate       EventType = "volume_update"
	EventProgressCorrection EventType = "progress_correction"
	EventMediaUpdate        EventType = "media_update"
)

// MediaUpdate is the payload of a media_update event.
// An empty Title signals that playback ended.
type MediaUpdate struct {
	TrackMetadata
	Timeline Timeline `json:"timeline"`
	Volume   int      `json:"volume"`
}

// Event is an immutable message for presentation consumers.
// Consumers must treat absent fields as empty/zero.
type Event struct {
	Type     EventType    `json:"type"`
	Message  string       `json:"message,omitempty"`
	Value    int          `json:"value,omitempty"`
	Position float64      `json:"position,omitempty"`
	Duration float64      `json:"duration,omitempty"`
	Media    *MediaUpdate `json:"data,omitempty"`
}

// StatusEvent builds a status_update event
func StatusEvent(message string) Event {
	return Event{Type: EventStatusUpdate, Message: message}
}

// VolumeEvent builds a volume_update event
func VolumeEvent(value int) Event {
	return Event{Type: EventVolumeUpdate, Value: value}
}

// ProgressEvent builds a progress_correction event
func ProgressEvent(t Timeline) Event {
	return Event{Type: EventProgressCorrection, Position: t.Position, Duration: t.Duration}
}

// MediaEvent builds a media_update event from a state snapshot
func MediaEvent(s PlaybackState) Event {
	return Event{
		Type: EventMediaUpdate,
		Media: &MediaUpdate{
			TrackMetadata: s.Track,
			Timeline:      s.Timeline,
			Volume:        s.VolumePercent,
		},
	}
}

// MediaOrEmpty returns the media payload, or an empty one when absent
func (e Event) MediaOrEmpty() MediaUpdate {
	if e.Media == nil {
		return MediaUpdate{}
	}
	return *e.Media
}
