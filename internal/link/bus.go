package link

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const bluezService = "org.bluez"

// ManagedObjects is the result of ObjectManager.GetManagedObjects
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BluezBus defines the system bus operations the BlueZ transport needs.
// This abstraction allows the transport to be tested without a Bluetooth stack.
type BluezBus interface {
	// ManagedObjects lists every object BlueZ exports with its interfaces and properties
	ManagedObjects(ctx context.Context) (ManagedObjects, error)

	// Call invokes a BlueZ method on the object at path
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error

	// GetProperty reads a property from a BlueZ object
	GetProperty(path dbus.ObjectPath, prop string) (dbus.Variant, error)

	// Subscribe registers ch for PropertiesChanged signals under path
	Subscribe(path dbus.ObjectPath, ch chan<- *dbus.Signal) error

	// Unsubscribe removes a channel registered with Subscribe
	Unsubscribe(path dbus.ObjectPath, ch chan<- *dbus.Signal)

	Close() error
}

// SystemBus is the real BluezBus on the D-Bus system bus
type SystemBus struct {
	conn *dbus.Conn
}

// NewSystemBus opens a private connection to the system bus
func NewSystemBus() (*SystemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return &SystemBus{conn: conn}, nil
}

func (b *SystemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var objects ManagedObjects
	err := b.conn.Object(bluezService, "/").
		CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	return objects, err
}

func (b *SystemBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	return b.conn.Object(bluezService, path).CallWithContext(ctx, method, 0, args...).Err
}

func (b *SystemBus) GetProperty(path dbus.ObjectPath, prop string) (dbus.Variant, error) {
	return b.conn.Object(bluezService, path).GetProperty(prop)
}

func (b *SystemBus) Subscribe(path dbus.ObjectPath, ch chan<- *dbus.Signal) error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return err
	}
	b.conn.Signal(ch)
	return nil
}

func (b *SystemBus) Unsubscribe(path dbus.ObjectPath, ch chan<- *dbus.Signal) {
	b.conn.RemoveSignal(ch)
	_ = b.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	)
}

func (b *SystemBus) Close() error {
	return b.conn.Close()
}
