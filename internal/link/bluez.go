package link

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	characteristicIface = "org.bluez.GattCharacteristic1"
)

// BluezOptions configures the BlueZ transport
type BluezOptions struct {
	// Adapter is the controller name (e.g. hci0); empty selects the first adapter
	Adapter            string
	CharacteristicUUID string
	PollInterval       time.Duration
}

// BluezTransport implements domain.Transport with BlueZ over the system bus
type BluezTransport struct {
	logger *zap.Logger
	opts   BluezOptions
	dial   func() (BluezBus, error)

	mu  sync.Mutex
	bus BluezBus
}

// NewBluezTransport creates a transport that connects to the system bus on first use
func NewBluezTransport(logger *zap.Logger, opts BluezOptions) *BluezTransport {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &BluezTransport{
		logger: logger,
		opts:   opts,
		dial:   func() (BluezBus, error) { return NewSystemBus() },
	}
}

func (t *BluezTransport) conn() (BluezBus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus != nil {
		return t.bus, nil
	}
	bus, err := t.dial()
	if err != nil {
		return nil, fmt.Errorf("system bus connection failed: %w", err)
	}
	t.bus = bus
	return bus, nil
}

// Close releases the system bus connection
func (t *BluezTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil
	}
	err := t.bus.Close()
	t.bus = nil
	return err
}

// Scan runs discovery until a device advertising name shows up or ctx expires.
// The returned address is the device's Bluetooth address.
func (t *BluezTransport) Scan(ctx context.Context, name string) (string, bool, error) {
	bus, err := t.conn()
	if err != nil {
		return "", false, err
	}

	objects, err := bus.ManagedObjects(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list bluez objects: %w", err)
	}
	adapter, err := t.adapterPath(objects)
	if err != nil {
		return "", false, err
	}

	// Devices BlueZ already knows about don't need a discovery round
	if addr, ok := findDevice(objects, adapter, name); ok {
		return addr, true, nil
	}

	if err := bus.Call(ctx, adapter, adapterIface+".StartDiscovery"); err != nil {
		if ctx.Err() != nil {
			return "", false, nil
		}
		if !isInProgress(err) {
			return "", false, fmt.Errorf("start discovery: %w", err)
		}
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := bus.Call(stopCtx, adapter, adapterIface+".StopDiscovery"); err != nil {
			t.logger.Debug("Failed to stop discovery", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false, nil
		case <-ticker.C:
		}

		objects, err := bus.ManagedObjects(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, nil
			}
			return "", false, fmt.Errorf("list bluez objects: %w", err)
		}
		if addr, ok := findDevice(objects, adapter, name); ok {
			return addr, true, nil
		}
	}
}

// Connect connects to the device, waits for GATT services, and resolves the metadata characteristic
func (t *BluezTransport) Connect(ctx context.Context, address string) (domain.Conn, error) {
	bus, err := t.conn()
	if err != nil {
		return nil, err
	}

	objects, err := bus.ManagedObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}
	adapter, err := t.adapterPath(objects)
	if err != nil {
		return nil, err
	}
	device := devicePath(adapter, address)

	if err := bus.Call(ctx, device, deviceIface+".Connect"); err != nil {
		return nil, fmt.Errorf("device connect: %w", err)
	}

	if err := t.waitServicesResolved(ctx, bus, device); err != nil {
		t.disconnect(bus, device)
		return nil, err
	}

	objects, err = bus.ManagedObjects(ctx)
	if err != nil {
		t.disconnect(bus, device)
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}
	char, ok := findCharacteristic(objects, device, t.opts.CharacteristicUUID)
	if !ok {
		t.disconnect(bus, device)
		return nil, fmt.Errorf("characteristic %s not found on %s", t.opts.CharacteristicUUID, address)
	}

	c := &bluezConn{
		logger:       t.logger,
		bus:          bus,
		device:       device,
		char:         char,
		signals:      make(chan *dbus.Signal, 8),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	if err := bus.Subscribe(device, c.signals); err != nil {
		t.disconnect(bus, device)
		return nil, fmt.Errorf("subscribe to device signals: %w", err)
	}
	go c.watch()

	return c, nil
}

func (t *BluezTransport) waitServicesResolved(ctx context.Context, bus BluezBus, device dbus.ObjectPath) error {
	ticker := time.NewTicker(t.opts.PollInterval / 2)
	defer ticker.Stop()
	for {
		v, err := bus.GetProperty(device, deviceIface+".ServicesResolved")
		if err == nil {
			if resolved, ok := v.Value().(bool); ok && resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *BluezTransport) disconnect(bus BluezBus, device dbus.ObjectPath) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Call(ctx, device, deviceIface+".Disconnect"); err != nil {
		t.logger.Debug("Device disconnect failed", zap.Error(err))
	}
}

func (t *BluezTransport) adapterPath(objects ManagedObjects) (dbus.ObjectPath, error) {
	if t.opts.Adapter != "" {
		path := dbus.ObjectPath("/org/bluez/" + t.opts.Adapter)
		if _, ok := objects[path][adapterIface]; !ok {
			return "", fmt.Errorf("bluetooth adapter %s not found", t.opts.Adapter)
		}
		return path, nil
	}

	var adapters []string
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; ok {
			adapters = append(adapters, string(path))
		}
	}
	if len(adapters) == 0 {
		return "", errors.New("no bluetooth adapter available")
	}
	sort.Strings(adapters)
	return dbus.ObjectPath(adapters[0]), nil
}

// findDevice returns the address of a device on adapter whose Name matches
func findDevice(objects ManagedObjects, adapter dbus.ObjectPath, name string) (string, bool) {
	prefix := string(adapter) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if n, _ := props["Name"].Value().(string); n != name {
			continue
		}
		if addr, _ := props["Address"].Value().(string); addr != "" {
			return addr, true
		}
	}
	return "", false
}

// findCharacteristic returns the path of the characteristic with uuid under device
func findCharacteristic(objects ManagedObjects, device dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[characteristicIface]
		if !ok {
			continue
		}
		if u, _ := props["UUID"].Value().(string); strings.EqualFold(u, uuid) {
			return path, true
		}
	}
	return "", false
}

// devicePath follows the BlueZ naming scheme: /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

func isInProgress(err error) bool {
	const inProgress = "org.bluez.Error.InProgress"
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == inProgress
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == inProgress
	}
	return false
}

// bluezConn is one live GATT connection
type bluezConn struct {
	logger *zap.Logger
	bus    BluezBus
	device dbus.ObjectPath
	char   dbus.ObjectPath

	signals      chan *dbus.Signal
	done         chan struct{}
	disconnected chan struct{}
	dropOnce     sync.Once
	closeOnce    sync.Once
}

func (c *bluezConn) Write(ctx context.Context, payload []byte) error {
	select {
	case <-c.disconnected:
		return domain.ErrNotConnected
	default:
	}
	return c.bus.Call(ctx, c.char, characteristicIface+".WriteValue", payload, map[string]dbus.Variant{})
}

func (c *bluezConn) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *bluezConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.bus.Unsubscribe(c.device, c.signals)
		c.markDropped()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.bus.Call(ctx, c.device, deviceIface+".Disconnect"); err != nil {
			c.logger.Debug("Device disconnect failed", zap.Error(err))
		}
	})
	return nil
}

func (c *bluezConn) markDropped() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

// watch closes Disconnected when BlueZ reports Connected=false for the device
func (c *bluezConn) watch() {
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok {
				c.markDropped()
				return
			}
			if isDeviceDrop(sig, c.device) {
				c.markDropped()
				return
			}
		}
	}
}

func isDeviceDrop(sig *dbus.Signal, device dbus.ObjectPath) bool {
	if sig == nil || sig.Path != device || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return false
	}
	if len(sig.Body) < 2 {
		return false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}
