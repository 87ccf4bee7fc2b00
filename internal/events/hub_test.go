package events

import (
	"testing"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(zap.NewNop(), 8)
	_, a := hub.Subscribe()
	_, b := hub.Subscribe()

	hub.Publish(domain.VolumeEvent(40))

	for name, ch := range map[string]<-chan domain.Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Type != domain.EventVolumeUpdate || e.Value != 40 {
				t.Errorf("%s: unexpected event %+v", name, e)
			}
		default:
			t.Errorf("%s: expected an event", name)
		}
	}
}

func TestHub_ReplaysLatestState(t *testing.T) {
	hub := NewHub(zap.NewNop(), 8)
	hub.Publish(domain.StatusEvent("Scanning for iPodLink..."))
	hub.Publish(domain.StatusEvent("Connected to iPodLink"))
	hub.Publish(domain.MediaEvent(domain.PlaybackState{
		Track:         domain.TrackMetadata{Title: "Song", Artist: "Artist"},
		VolumePercent: 40,
	}))
	hub.Publish(domain.VolumeEvent(55))

	_, ch := hub.Subscribe()

	status := <-ch
	if status.Message != "Connected to iPodLink" {
		t.Errorf("expected the last status replayed, got %+v", status)
	}
	media := (<-ch).MediaOrEmpty()
	if media.Title != "Song" || media.Volume != 55 {
		t.Errorf("expected the current media replayed, got %+v", media)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra replay %+v", e)
	default:
	}
}

func TestHub_Snapshot(t *testing.T) {
	hub := NewHub(zap.NewNop(), 8)
	if s := hub.Snapshot(); s.Volume != domain.VolumeUnavailable || s.Media.Title != "" {
		t.Errorf("unexpected empty snapshot %+v", s)
	}

	hub.Publish(domain.MediaEvent(domain.PlaybackState{Track: domain.TrackMetadata{Title: "Song"}, VolumePercent: 10}))
	hub.Publish(domain.ProgressEvent(domain.Timeline{Position: 61, Duration: 245}))
	hub.Subscribe()

	s := hub.Snapshot()
	if s.Media.Timeline.Position != 61 || s.Volume != 10 || s.Subscribers != 1 {
		t.Errorf("unexpected snapshot %+v", s)
	}

	// Ended: corrections no longer move a blank display
	hub.Publish(domain.MediaEvent(domain.PlaybackState{VolumePercent: 10}))
	hub.Publish(domain.ProgressEvent(domain.Timeline{Position: 3}))
	if s := hub.Snapshot(); s.Media.Title != "" || s.Media.Timeline.Position != 0 {
		t.Errorf("unexpected snapshot after end %+v", s)
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hub := NewHub(zap.New(core), 2)
	_, slow := hub.Subscribe()
	_, fast := hub.Subscribe()

	received := 0
	for i := range 10 {
		hub.Publish(domain.VolumeEvent(i))
		select {
		case <-fast:
			received++
		default:
		}
	}

	if len(slow) != 2 {
		t.Errorf("expected the slow queue capped at 2, got %d", len(slow))
	}
	if received != 10 {
		t.Errorf("a slow subscriber must not starve others, fast got %d", received)
	}
	if n := logs.FilterMessage("Event subscriber queue full, dropping events").Len(); n != 1 {
		t.Errorf("expected one rate-limited warning, got %d", n)
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)
	id, a := hub.Subscribe()
	_, b := hub.Subscribe()

	hub.Unsubscribe(id)
	hub.Unsubscribe(id)
	if _, ok := <-a; ok {
		t.Error("expected the unsubscribed channel closed")
	}

	hub.Close()
	if _, ok := <-b; ok {
		t.Error("expected channels closed by Close")
	}
	hub.Publish(domain.VolumeEvent(1))
	hub.Close()

	_, late := hub.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected a closed channel after Close")
	}
}
