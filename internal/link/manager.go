package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

// Options configures the link manager
type Options struct {
	DeviceName  string
	ScanTimeout time.Duration
	SettleDelay time.Duration
}

// Manager owns the peripheral connection lifecycle:
// Disconnected -> Scanning -> Connecting -> Connected -> Disconnected on drop.
type Manager struct {
	logger    *zap.Logger
	transport domain.Transport
	publisher domain.Publisher
	opts      Options

	mu         sync.Mutex // guards state, conn, connCtx
	state      domain.LinkState
	conn       domain.Conn
	connCtx    context.Context
	connCancel context.CancelFunc

	writeMu sync.Mutex // serializes writes to the characteristic
}

// NewManager creates a link manager in the Disconnected state
func NewManager(logger *zap.Logger, transport domain.Transport, publisher domain.Publisher, opts Options) *Manager {
	return &Manager{
		logger:    logger,
		transport: transport,
		publisher: publisher,
		opts:      opts,
		state:     domain.LinkDisconnected,
	}
}

// State returns the current link state
func (m *Manager) State() domain.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether payloads can be written
func (m *Manager) IsConnected() bool {
	return m.State() == domain.LinkConnected
}

// Connect scans for the peripheral and connects to it.
// A device that is not around yields (false, nil); only a failed connection attempt is an error.
func (m *Manager) Connect(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.state != domain.LinkDisconnected {
		connected := m.state == domain.LinkConnected
		m.mu.Unlock()
		return connected, nil
	}
	m.state = domain.LinkScanning
	m.mu.Unlock()

	m.status(fmt.Sprintf("Scanning for %s...", m.opts.DeviceName))

	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	address, found, err := m.transport.Scan(scanCtx, m.opts.DeviceName)
	cancel()
	if err != nil || !found {
		m.logger.Debug("Peripheral not found", zap.String("name", m.opts.DeviceName), zap.Error(err))
		m.setState(domain.LinkDisconnected)
		m.status(fmt.Sprintf("%s not found", m.opts.DeviceName))
		return false, nil
	}

	m.setState(domain.LinkConnecting)
	m.logger.Info("Peripheral found, connecting", zap.String("address", address))

	conn, err := m.transport.Connect(ctx, address)
	if err != nil {
		m.setState(domain.LinkDisconnected)
		m.status("Connection failed")
		return false, fmt.Errorf("connect to %s: %w", address, err)
	}

	// The peripheral finishes service discovery after the link comes up
	if m.opts.SettleDelay > 0 {
		timer := time.NewTimer(m.opts.SettleDelay)
		select {
		case <-timer.C:
		case <-conn.Disconnected():
			timer.Stop()
			m.closeConn(conn)
			m.setState(domain.LinkDisconnected)
			m.status("Disconnected")
			return false, fmt.Errorf("settle on %s: %w", address, domain.ErrLinkLost)
		case <-ctx.Done():
			timer.Stop()
			m.closeConn(conn)
			m.setState(domain.LinkDisconnected)
			return false, ctx.Err()
		}
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.connCtx = connCtx
	m.connCancel = connCancel
	m.state = domain.LinkConnected
	m.mu.Unlock()

	go m.watch(conn, connCtx)

	m.logger.Info("Peripheral connected", zap.String("address", address))
	m.status(fmt.Sprintf("Connected to %s", m.opts.DeviceName))
	return true, nil
}

// Send writes a payload to the peripheral. It is a no-op while not connected:
// nothing is queued for later delivery. A drop during the write fails it with ErrLinkLost.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	if m.state != domain.LinkConnected {
		m.mu.Unlock()
		return nil
	}
	conn, connCtx := m.conn, m.connCtx
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if connCtx.Err() != nil {
		return domain.ErrLinkLost
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, cancel)
	defer stop()

	if err := conn.Write(writeCtx, payload); err != nil {
		if connCtx.Err() != nil {
			return fmt.Errorf("write: %w", domain.ErrLinkLost)
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close drops the current connection, if any
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		m.dropped(conn, false)
	}
}

// watch transitions to Disconnected when the peer goes away
func (m *Manager) watch(conn domain.Conn, connCtx context.Context) {
	select {
	case <-conn.Disconnected():
		m.dropped(conn, true)
	case <-connCtx.Done():
	}
}

func (m *Manager) dropped(conn domain.Conn, unexpected bool) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.connCancel()
	m.conn = nil
	m.connCtx = nil
	m.connCancel = nil
	m.state = domain.LinkDisconnected
	m.mu.Unlock()

	m.closeConn(conn)
	if unexpected {
		m.logger.Warn("Peripheral disconnected", zap.String("name", m.opts.DeviceName))
	} else {
		m.logger.Info("Peripheral connection closed", zap.String("name", m.opts.DeviceName))
	}
	m.status("Disconnected")
}

func (m *Manager) closeConn(conn domain.Conn) {
	if err := conn.Close(); err != nil {
		m.logger.Debug("Failed to close peripheral connection", zap.Error(err))
	}
}

func (m *Manager) setState(s domain.LinkState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) status(msg string) {
	if m.publisher != nil {
		m.publisher.Publish(domain.StatusEvent(msg))
	}
}
