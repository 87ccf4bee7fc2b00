package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/genricoloni/podlink/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestModel() (Model, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := New(make(chan domain.Event), DefaultTheme(true))
	m.now = c.now
	return m, c
}

func updateModel(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func songEvent() domain.Event {
	return domain.MediaEvent(domain.PlaybackState{
		Track:         domain.TrackMetadata{Title: "Song", Artist: "Artist", Album: "Album"},
		Timeline:      domain.Timeline{Position: 61, Duration: 245},
		VolumePercent: 40,
	})
}

func TestUpdate_AppliesEvents(t *testing.T) {
	m, _ := newTestModel()

	m, cmd := updateModel(m, eventMsg(domain.StatusEvent("Connected to iPodLink")))
	if cmd == nil {
		t.Error("expected the model to keep waiting for events")
	}
	m, _ = updateModel(m, eventMsg(songEvent()))
	m, _ = updateModel(m, eventMsg(domain.VolumeEvent(55)))

	view := m.View()
	for _, want := range []string{"Connected to iPodLink", "Song", "Artist", "Album", "1:01 / 4:05", "Volume: 55%"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestPosition_Extrapolates(t *testing.T) {
	m, c := newTestModel()
	m, _ = updateModel(m, eventMsg(songEvent()))

	c.t = c.t.Add(10 * time.Second)
	if pos := m.Position(); pos != 71 {
		t.Errorf("expected 71s, got %v", pos)
	}

	// Correction resets the local clock
	m, _ = updateModel(m, eventMsg(domain.ProgressEvent(domain.Timeline{Position: 65, Duration: 245})))
	if pos := m.Position(); pos != 65 {
		t.Errorf("expected corrected 65s, got %v", pos)
	}

	// Never past the end
	c.t = c.t.Add(time.Hour)
	if pos := m.Position(); pos != 245 {
		t.Errorf("expected clamped 245s, got %v", pos)
	}
}

func TestView_NothingPlaying(t *testing.T) {
	m, _ := newTestModel()
	m, _ = updateModel(m, eventMsg(songEvent()))
	m, _ = updateModel(m, eventMsg(domain.MediaEvent(domain.PlaybackState{VolumePercent: 40})))

	view := m.View()
	if !strings.Contains(view, "Nothing playing") {
		t.Errorf("expected the ended state rendered:\n%s", view)
	}
	if m.Position() != 0 {
		t.Errorf("expected no position without a track, got %v", m.Position())
	}
}

func TestView_UnknownValues(t *testing.T) {
	m, _ := newTestModel()
	m, _ = updateModel(m, eventMsg(domain.MediaEvent(domain.PlaybackState{
		Track:         domain.TrackMetadata{Title: "Radio"},
		VolumePercent: domain.VolumeUnavailable,
	})))

	view := m.View()
	if !strings.Contains(view, "Volume: n/a") || !strings.Contains(view, "/ live") {
		t.Errorf("expected unknown volume and duration rendered:\n%s", view)
	}
}

func TestView_StartedAgo(t *testing.T) {
	m, c := newTestModel()
	m, _ = updateModel(m, eventMsg(songEvent()))
	c.t = c.t.Add(3 * time.Minute)

	// Same track again does not reset the start time
	m, _ = updateModel(m, eventMsg(songEvent()))
	if view := m.View(); !strings.Contains(view, "started 3 minutes ago") {
		t.Errorf("expected relative start time:\n%s", view)
	}
}

func TestUpdate_Quit(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.Msg
	}{
		{name: "q", msg: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}},
		{name: "ctrl+c", msg: tea.KeyMsg{Type: tea.KeyCtrlC}},
		{name: "Stream closed", msg: closedMsg{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel()
			_, cmd := updateModel(m, tt.msg)
			if cmd == nil {
				t.Fatal("expected a quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
		})
	}
}

func TestWaitForEvent(t *testing.T) {
	events := make(chan domain.Event, 1)
	m := New(events, DefaultTheme(true))

	events <- domain.VolumeEvent(10)
	if msg, ok := m.waitForEvent()().(eventMsg); !ok || msg.Value != 10 {
		t.Errorf("expected the queued event, got %#v", msg)
	}

	close(events)
	if _, ok := m.waitForEvent()().(closedMsg); !ok {
		t.Error("expected closedMsg on a closed stream")
	}
}
