//go:build linux

package monitor

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
)

// DBusClient is the part of the session bus the MPRIS source talks to
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/podlink/internal/monitor DBusClient
type DBusClient interface {
	Close() error
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)

	// ListNames returns every name currently owned on the bus
	ListNames() ([]string, error)

	// GetNameOwner resolves a well-known name to its unique ":1.N" owner
	GetNameOwner(name string) (string, error)

	// PlayerProperty reads a property of the player's /org/mpris/MediaPlayer2 object.
	// prop is qualified by its interface, e.g. org.mpris.MediaPlayer2.Player.Position.
	PlayerProperty(ctx context.Context, player, prop string) (dbus.Variant, error)
}

type sessionBus struct {
	conn *dbus.Conn
}

// newSessionBus opens a private connection so Close never tears down the shared one
func newSessionBus() (*sessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &sessionBus{conn: conn}, nil
}

func (b *sessionBus) Close() error {
	return b.conn.Close()
}

func (b *sessionBus) AddMatchSignal(options ...dbus.MatchOption) error {
	return b.conn.AddMatchSignal(options...)
}

func (b *sessionBus) Signal(ch chan<- *dbus.Signal) {
	b.conn.Signal(ch)
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

func (b *sessionBus) GetNameOwner(name string) (string, error) {
	var owner string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

func (b *sessionBus) PlayerProperty(ctx context.Context, player, prop string) (dbus.Variant, error) {
	iface, name := prop, ""
	if i := strings.LastIndex(prop, "."); i >= 0 {
		iface, name = prop[:i], prop[i+1:]
	}

	var v dbus.Variant
	err := b.conn.Object(player, dbus.ObjectPath(mprisPath)).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, name).
		Store(&v)
	return v, err
}
