//go:build tinygo

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
)

// DeviceName is the advertised local name.
const DeviceName = "D21 Scrolling Text"

// Service and characteristic UUIDs: the display speaks the Nordic UART
// Service, RX is the ingest characteristic and TX the notify one.
var (
	serviceUUID = bluetooth.ServiceUUIDNordicUART
	ingestUUID  = bluetooth.CharacteristicUUIDUARTRX
	egressUUID  = bluetooth.CharacteristicUUIDUARTTX
)

var (
	ErrUnknownConn = errors.New("ble: unknown connection")
	ErrNotEgress   = errors.New("ble: notify on non-notify attribute")
)

const eventQueue = 8

// Adapter implements peripheral.Radio and notify.Notifier on the default
// bluetooth adapter.
type Adapter struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	table   *conntable.Table
	reg     *registry
	logger  *slog.Logger

	ingest bluetooth.Characteristic
	egress bluetooth.Characteristic

	server  *peripheral.Server
	events  chan peripheral.Event
	dropped atomic.Uint32
}

// New creates an adapter over bluetooth.DefaultAdapter. table is the
// connection table the bridge fans out over.
func New(table *conntable.Table, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		table:   table,
		reg:     newRegistry(),
		logger:  logger,
		events:  make(chan peripheral.Event, eventQueue),
	}
}

// Bind attaches the server that receives radio events and characteristic
// writes. It must be called before Enable.
func (a *Adapter) Bind(server *peripheral.Server) {
	a.server = server
}

// Enable starts the stack, registers the display service and configures
// advertising. Advertising itself starts once Run feeds the sync event.
func (a *Adapter) Enable() error {
	if a.server == nil {
		return errors.New("ble: Enable before Bind")
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}
	a.adapter.SetConnectHandler(a.onConnect)

	err := a.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle:     &a.ingest,
				UUID:       ingestUUID,
				Flags:      bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: a.onWrite,
			},
			{
				Handle: &a.egress,
				UUID:   egressUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("add service: %w", err)
	}
	a.logger.Info("registered service", slog.String("uuid", serviceUUID.String()))
	a.logger.Info("registering characteristic", slog.String("uuid", ingestUUID.String()), slog.String("role", "ingest"))
	a.logger.Info("registering characteristic", slog.String("uuid", egressUUID.String()), slog.String("role", "egress"))

	a.adv = a.adapter.DefaultAdvertisement()
	if err := a.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    DeviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	}); err != nil {
		return fmt.Errorf("configure advertising: %w", err)
	}
	return nil
}

// Run feeds the host-synced event and then every queued connection event to
// the server until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	a.server.HandleEvent(peripheral.Synced{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.server.HandleEvent(ev)
			if d, ok := ev.(peripheral.Disconnected); ok {
				a.reg.release(d.Conn)
			}
			if n := a.dropped.Swap(0); n > 0 {
				a.logger.Warn("radio events dropped", slog.Int("count", int(n)))
			}
		}
	}
}

// onConnect runs in the stack's context and only queues.
func (a *Adapter) onConnect(device bluetooth.Device, connected bool) {
	peer := peripheral.Address(device.Address.MAC)
	if connected {
		id, ok := a.reg.connect(peer)
		status := peripheral.StatusOK
		if !ok {
			status = 1
		}
		a.queue(peripheral.Connected{Conn: id, Status: status})
		return
	}
	if id, ok := a.reg.disconnect(peer); ok {
		a.queue(peripheral.Disconnected{Conn: id})
	}
}

func (a *Adapter) queue(ev peripheral.Event) {
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) onWrite(client bluetooth.Connection, offset int, value []byte) {
	access := peripheral.Access{
		Op:   peripheral.OpWrite,
		Conn: conntable.ID(client),
		Attr: peripheral.AttrIngest,
		Data: value,
	}
	if offset != 0 {
		access.CopyErr = fmt.Errorf("long write at offset %d", offset)
	}
	// Errors are logged by the server and must not reach the stack.
	_ = a.server.HandleAccess(access)
}

// ResolveAddress implements peripheral.Radio.
func (a *Adapter) ResolveAddress() (peripheral.Address, error) {
	mac, err := a.adapter.Address()
	if err != nil {
		return peripheral.Address{}, err
	}
	return peripheral.Address(mac.MAC), nil
}

// StartAdvertising implements peripheral.Radio.
func (a *Adapter) StartAdvertising() error {
	if a.adv == nil {
		return errors.New("ble: advertising not configured")
	}
	return a.adv.Start()
}

// DescribeConnection implements peripheral.Radio. The stack does not expose
// connection parameters, so only the peer is reported.
func (a *Adapter) DescribeConnection(conn conntable.ID) (peripheral.ConnDesc, error) {
	peer, ok := a.reg.peer(conn)
	if !ok {
		return peripheral.ConnDesc{}, ErrUnknownConn
	}
	return peripheral.ConnDesc{Conn: conn, Peer: peer}, nil
}

// Notify implements notify.Notifier. The stack notifies every subscribed
// central at once, so only the lowest active id sends; the other ids of the
// same fan-out report success without writing.
func (a *Adapter) Notify(conn conntable.ID, attr uint16, payload []byte) error {
	if peripheral.Attr(attr) != peripheral.AttrEgress {
		return ErrNotEgress
	}
	if _, ok := a.reg.peer(conn); !ok {
		return ErrUnknownConn
	}
	if conn != leader(a.table) {
		return nil
	}
	_, err := a.egress.Write(payload)
	return err
}
