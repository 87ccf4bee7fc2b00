// Package ui renders the event stream as a terminal now-playing view.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/genricoloni/podlink/internal/domain"
)

const (
	tickInterval = 500 * time.Millisecond
	barWidth     = 30
)

type eventMsg domain.Event

type closedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model of the now-playing view. It only renders events.
type Model struct {
	theme  Theme
	events <-chan domain.Event
	now    func() time.Time

	status    string
	media     domain.MediaUpdate
	volume    int
	position  float64   // at correctedAt
	correctAt time.Time // when position was last set
	startedAt time.Time
	closed    bool
}

// Run shows the view until the user quits, ctx is cancelled or events is closed
func Run(ctx context.Context, events <-chan domain.Event, theme Theme) error {
	p := tea.NewProgram(New(events, theme), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// New creates a model reading from events
func New(events <-chan domain.Event, theme Theme) Model {
	return Model{
		theme:  theme,
		events: events,
		now:    time.Now,
		status: "Starting...",
		volume: domain.VolumeUnavailable,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case eventMsg:
		m = m.apply(domain.Event(msg))
		return m, m.waitForEvent()
	case closedMsg:
		m.closed = true
		m.status = "Daemon stopped"
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m Model) apply(e domain.Event) Model {
	now := m.now()
	switch e.Type {
	case domain.EventStatusUpdate:
		m.status = e.Message
	case domain.EventVolumeUpdate:
		m.volume = e.Value
	case domain.EventProgressCorrection:
		m.media.Timeline = domain.Timeline{Position: e.Position, Duration: e.Duration}
		m.position = e.Position
		m.correctAt = now
	case domain.EventMediaUpdate:
		media := e.MediaOrEmpty()
		if media.Title != m.media.Title || media.Artist != m.media.Artist {
			m.startedAt = now
		}
		m.media = media
		m.volume = media.Volume
		m.position = media.Timeline.Position
		m.correctAt = now
	}
	return m
}

// Position extrapolates the playback position since the last correction
func (m Model) Position() float64 {
	if m.media.Title == "" {
		return 0
	}
	pos := m.position + m.now().Sub(m.correctAt).Seconds()
	if d := m.media.Timeline.Duration; d > 0 && pos > d {
		pos = d
	}
	return pos
}

func (m Model) View() string {
	var b strings.Builder
	t := m.theme

	b.WriteString(t.Title.Render("podlink"))
	b.WriteString("  ")
	b.WriteString(m.statusStyle().Render(m.status))
	b.WriteString("\n\n")

	if m.media.Title == "" {
		b.WriteString(t.Dim.Render("Nothing playing"))
	} else {
		b.WriteString(t.Accent.Render(m.media.Title))
		b.WriteString("\n")
		b.WriteString(t.Text.Render(m.media.Artist))
		if m.media.Album != "" {
			b.WriteString(t.Dim.Render(" · " + m.media.Album))
		}
		b.WriteString("\n\n")
		b.WriteString(m.progressLine())
		if !m.startedAt.IsZero() {
			b.WriteString("\n")
			b.WriteString(t.Dim.Render("started " + humanize.RelTime(m.startedAt, m.now(), "ago", "from now")))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(t.Text.Render(volumeLabel(m.volume)))

	return t.Border.Render(b.String()) + "\n" + t.Dim.Render("q to quit") + "\n"
}

func (m Model) statusStyle() lipgloss.Style {
	switch {
	case strings.HasPrefix(m.status, "Connected"):
		return m.theme.Success
	case strings.HasSuffix(m.status, "not found"), m.status == "Disconnected", m.status == "Connection failed":
		return m.theme.Warning
	default:
		return m.theme.Dim
	}
}

func (m Model) progressLine() string {
	pos := m.Position()
	dur := m.media.Timeline.Duration
	if dur <= 0 {
		return m.theme.Dim.Render(formatSeconds(pos) + " / live")
	}
	filled := int(pos / dur * barWidth)
	filled = max(0, min(barWidth, filled))
	bar := m.theme.Accent.Render(strings.Repeat("█", filled)) + m.theme.Dim.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %s / %s", bar, formatSeconds(pos), formatSeconds(dur))
}

func volumeLabel(v int) string {
	if v == domain.VolumeUnavailable {
		return "Volume: n/a"
	}
	return fmt.Sprintf("Volume: %d%%", v)
}

func formatSeconds(s float64) string {
	total := int(s)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
