//go:build linux

package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = "/org/mpris/MediaPlayer2"
	playerIface      = "org.mpris.MediaPlayer2.Player"
	propMetadata     = playerIface + ".Metadata"
	propStatus       = playerIface + ".PlaybackStatus"
	propPosition     = playerIface + ".Position"
	microsPerSecond  = 1_000_000.0
	signalBufferSize = 16
)

var errNotStarted = errors.New("media source not started")

// MprisSource implements domain.MediaSource over the MPRIS D-Bus interface
type MprisSource struct {
	logger      *zap.Logger
	dial        func() (DBusClient, error)
	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	conn        DBusClient        // Interface for testability
	wg          sync.WaitGroup    // Tracks the signal goroutine
	playerNames map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
	lastActive  string            // Well-known name of the last session reported active
	watchers    map[int]watcher
	nextWatchID int
}

type watcher struct {
	sessionID string
	fn        func(domain.Notice)
}

// NewMprisSource creates a new MPRIS media source
func NewMprisSource(logger *zap.Logger) *MprisSource {
	return &MprisSource{
		logger:      logger,
		dial:        func() (DBusClient, error) { return newSessionBus() },
		playerNames: make(map[string]string),
		watchers:    make(map[int]watcher),
	}
}

// Start connects to the session bus and begins listening for player signals.
// It returns once the signal goroutine is running.
func (m *MprisSource) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Add match rule for NameOwnerChanged to track new/removed players dynamically
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	}

	// The signal goroutine outlives the fx start context
	sigCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if err := m.detectExistingPlayers(); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(signals)

	m.wg.Add(1)
	go m.monitorSignals(sigCtx, signals)

	m.logger.Info("MPRIS media source started")
	return nil
}

// Stop closes the bus connection and waits for the signal goroutine
func (m *MprisSource) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.mu.Unlock()

	m.wg.Wait()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.logger.Info("MPRIS media source stopped")
	return err
}

// CurrentSession selects the active player: a Playing one (preferring the previous
// active session), else the previous session if still present and not Stopped,
// else any Paused player.
func (m *MprisSource) CurrentSession(ctx context.Context) (domain.SessionInfo, bool, error) {
	conn, err := m.client(ctx)
	if err != nil {
		return domain.SessionInfo{}, false, err
	}

	names, err := conn.ListNames()
	if err != nil {
		return domain.SessionInfo{}, false, fmt.Errorf("failed to list bus names: %w", err)
	}

	statuses := make(map[string]domain.PlayerStatus)
	var players []string
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		status, err := m.playbackStatus(ctx, conn, name)
		if err != nil {
			m.logger.Debug("Skipping player without status",
				zap.String("player", name),
				zap.Error(err))
			continue
		}
		players = append(players, name)
		statuses[name] = status
	}

	m.mu.RLock()
	previous := m.lastActive
	m.mu.RUnlock()

	chosen := selectSession(players, statuses, previous)

	m.mu.Lock()
	m.lastActive = chosen
	m.mu.Unlock()

	if chosen == "" {
		return domain.SessionInfo{}, false, nil
	}
	return domain.SessionInfo{ID: chosen, Status: statuses[chosen], Owner: m.ownerOf(chosen)}, true, nil
}

// ownerOf returns the unique name last seen owning a player, or "" if unknown
func (m *MprisSource) ownerOf(player string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for unique, name := range m.playerNames {
		if name == player {
			return unique
		}
	}
	return ""
}

// selectSession applies the active-session preference order to a snapshot of players
func selectSession(players []string, statuses map[string]domain.PlayerStatus, previous string) string {
	if previous != "" && statuses[previous] == domain.StatusPlaying {
		return previous
	}
	for _, p := range players {
		if statuses[p] == domain.StatusPlaying {
			return p
		}
	}
	if status, ok := statuses[previous]; ok && status != domain.StatusStopped {
		return previous
	}
	for _, p := range players {
		if statuses[p] == domain.StatusPaused {
			return p
		}
	}
	return ""
}

// Properties reads the session's track metadata
func (m *MprisSource) Properties(ctx context.Context, sessionID string) (domain.MediaProperties, error) {
	conn, err := m.client(ctx)
	if err != nil {
		return domain.MediaProperties{}, err
	}

	variant, err := conn.PlayerProperty(ctx, sessionID, propMetadata)
	if err != nil {
		return domain.MediaProperties{}, fmt.Errorf("failed to get metadata: %w", sessionErr(err))
	}

	// Some players return nil or unexpected types when nothing is loaded
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map", zap.String("player", sessionID))
		return domain.MediaProperties{}, nil
	}
	return m.parseMetadata(metadata), nil
}

// Timeline samples position and length, converting microseconds to seconds
func (m *MprisSource) Timeline(ctx context.Context, sessionID string) (domain.Timeline, error) {
	conn, err := m.client(ctx)
	if err != nil {
		return domain.Timeline{}, err
	}

	var tl domain.Timeline
	if variant, err := conn.PlayerProperty(ctx, sessionID, propMetadata); err == nil {
		if metadata, ok := variant.Value().(map[string]dbus.Variant); ok {
			if length, ok := metadata["mpris:length"]; ok {
				tl.Duration = micros(length.Value()) / microsPerSecond
			}
		}
	}

	variant, err := conn.PlayerProperty(ctx, sessionID, propPosition)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("failed to get position: %w", err)
	}
	tl.Position = micros(variant.Value()) / microsPerSecond

	return tl.Normalize(), nil
}

// micros converts the integer types players use for time values
func micros(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int32:
		return float64(n)
	case uint32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// Watch registers fn for notifications about sessionID.
// fn runs on the D-Bus signal goroutine.
func (m *MprisSource) Watch(sessionID string, fn func(domain.Notice)) func() {
	m.mu.Lock()
	id := m.nextWatchID
	m.nextWatchID++
	m.watchers[id] = watcher{sessionID: sessionID, fn: fn}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

func (m *MprisSource) client(ctx context.Context) (DBusClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, errNotStarted
	}
	return m.conn, nil
}

func (m *MprisSource) playbackStatus(ctx context.Context, conn DBusClient, player string) (domain.PlayerStatus, error) {
	variant, err := conn.PlayerProperty(ctx, player, propStatus)
	if err != nil {
		return "", fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := variant.Value().(string)
	if !ok {
		return "", errors.New("invalid playback status format")
	}
	return parseStatus(status), nil
}

// detectExistingPlayers maps the unique names of players already on the bus
func (m *MprisSource) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		playerCount++

		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			m.logger.Debug("Could not resolve player owner",
				zap.String("player", name),
				zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.playerNames[uniqueName] = name
		m.mu.Unlock()
		m.logger.Debug("Mapped player name",
			zap.String("unique", uniqueName),
			zap.String("wellKnown", name))
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisSource) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks player lifecycle and reports removed sessions
func (m *MprisSource) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	m.mu.Lock()
	if oldOwner != "" {
		delete(m.playerNames, oldOwner)
	}
	if newOwner != "" {
		m.playerNames[newOwner] = name
	}
	m.mu.Unlock()

	switch {
	case newOwner != "" && oldOwner == "":
		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))
	case newOwner == "" && oldOwner != "":
		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))
		m.notify(domain.Notice{SessionID: name, Kind: domain.NoticeRemoved, Owner: oldOwner})
	default:
		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handleSignal turns a PropertiesChanged signal into a change notice
func (m *MprisSource) handleSignal(sig *dbus.Signal) {
	// PropertiesChanged carries: interface name, changed properties, invalidated properties
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}
	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerIface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	_, hasMetadata := changedProps["Metadata"]
	_, hasStatus := changedProps["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	playerName := m.getPlayerName(sig.Sender)
	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", playerName),
		zap.Int("properties", len(changedProps)))

	m.notify(domain.Notice{SessionID: playerName, Kind: domain.NoticeChanged})
}

func (m *MprisSource) notify(n domain.Notice) {
	m.mu.RLock()
	var fns []func(domain.Notice)
	for _, w := range m.watchers {
		if w.sessionID == n.SessionID {
			fns = append(fns, w.fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}

// parseMetadata converts MPRIS metadata to the typed property record
func (m *MprisSource) parseMetadata(metadata map[string]dbus.Variant) domain.MediaProperties {
	var props domain.MediaProperties

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			props.Title = title
		}
	}

	// Artist is a list per the MPRIS spec, some players send a plain string
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			if len(artists) > 0 {
				props.Artist = artists[0]
			}
		case string:
			props.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			props.Album = album
		}
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := artVar.Value().(string); ok {
			props.ArtURL = artURL
		}
	}

	return props
}

// sessionErr maps a vanished bus name to domain.ErrNoSession
func sessionErr(err error) error {
	const serviceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == serviceUnknown {
		return fmt.Errorf("%w: %v", domain.ErrNoSession, err)
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == serviceUnknown {
		return fmt.Errorf("%w: %v", domain.ErrNoSession, err)
	}
	return err
}

func parseStatus(status string) domain.PlayerStatus {
	switch status {
	case "Playing":
		return domain.StatusPlaying
	case "Paused":
		return domain.StatusPaused
	default:
		return domain.StatusStopped
	}
}

// getPlayerName returns the well-known player name for a unique bus name.
// Falls back to the unique name if no mapping exists.
func (m *MprisSource) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}
