// Package events fans state events out to presentation consumers.
package events

import (
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the per-subscriber queue length
	DefaultBufferSize = 64

	dropWarningInterval = 5 * time.Second
)

// Snapshot is the latest known presentation state
type Snapshot struct {
	Status      string             `json:"status"`
	Media       domain.MediaUpdate `json:"media"`
	Volume      int                `json:"volume"`
	Subscribers int                `json:"subscribers"`
}

// Hub is the outbound event queue. Publish never blocks: a subscriber that
// falls behind loses events rather than stalling the engine.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu         sync.RWMutex
	subs       map[uuid.UUID]chan domain.Event
	lastStatus *domain.Event
	lastMedia  *domain.Event
	volume     int
	closed     bool

	dropMu          sync.Mutex
	lastDropWarning time.Time
}

// NewHub creates an event hub
func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		logger:     logger,
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]chan domain.Event),
		volume:     domain.VolumeUnavailable,
	}
}

// Publish delivers e to every subscriber and records it for replay
func (h *Hub) Publish(e domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.record(e)
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logDropWarning(id, e.Type)
		}
	}
}

// record keeps what a late subscriber needs to render the current state. Caller holds mu.
func (h *Hub) record(e domain.Event) {
	switch e.Type {
	case domain.EventStatusUpdate:
		h.lastStatus = &e
	case domain.EventMediaUpdate:
		h.lastMedia = &e
		h.volume = e.MediaOrEmpty().Volume
	case domain.EventVolumeUpdate:
		h.volume = e.Value
		if h.lastMedia != nil {
			m := h.lastMedia.MediaOrEmpty()
			m.Volume = e.Value
			h.lastMedia = &domain.Event{Type: domain.EventMediaUpdate, Media: &m}
		}
	case domain.EventProgressCorrection:
		if h.lastMedia != nil && h.lastMedia.MediaOrEmpty().Title != "" {
			m := h.lastMedia.MediaOrEmpty()
			m.Timeline = domain.Timeline{Position: e.Position, Duration: e.Duration}
			h.lastMedia = &domain.Event{Type: domain.EventMediaUpdate, Media: &m}
		}
	}
}

// Subscribe registers a consumer. The last status and media events are replayed first.
// The channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() (uuid.UUID, <-chan domain.Event) {
	id := uuid.New()
	ch := make(chan domain.Event, h.bufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	if h.lastStatus != nil {
		ch <- *h.lastStatus
	}
	if h.lastMedia != nil {
		ch <- *h.lastMedia
	}
	h.subs[id] = ch

	h.logger.Debug("Event subscriber added", zap.String("id", id.String()), zap.Int("subscribers", len(h.subs)))
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
	h.logger.Debug("Event subscriber removed", zap.String("id", id.String()), zap.Int("subscribers", len(h.subs)))
}

// Snapshot returns the latest recorded state
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Snapshot{Volume: h.volume, Subscribers: len(h.subs)}
	if h.lastStatus != nil {
		s.Status = h.lastStatus.Message
	}
	if h.lastMedia != nil {
		s.Media = h.lastMedia.MediaOrEmpty()
	}
	return s
}

// Close closes every subscriber channel. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub) logDropWarning(id uuid.UUID, t domain.EventType) {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	if time.Since(h.lastDropWarning) < dropWarningInterval {
		return
	}
	h.lastDropWarning = time.Now()
	h.logger.Warn("Event subscriber queue full, dropping events",
		zap.String("id", id.String()),
		zap.String("type", string(t)))
}
