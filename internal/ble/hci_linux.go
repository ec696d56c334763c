//go:build linux

package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/bleprint/internal/ble/protocol"
	"github.com/fako1024/gatt"
)

const (
	hciMTU          = 500
	hciPowerTimeout = 5 * time.Second
)

var hciDeviceOptions = []gatt.Option{
	gatt.LnxMaxConnections(1),
	gatt.LnxDeviceID(-1, true),
}

// HCICentral drives a Linux HCI socket directly through fako1024/gatt,
// bypassing BlueZ. It reports real characteristic properties, so
// acknowledged writes are used where the printer supports them.
type HCICentral struct {
	device gatt.Device
	opts   BackendOptions
	log    Logger

	powered     chan struct{}
	poweredOnce sync.Once

	// mu protects the fields below.
	mu        sync.Mutex
	handler   func(Event)
	sighted   map[PeripheralID]gatt.Peripheral
	requested connectRequests
	links     map[PeripheralID]*hciLink

	// writeMu serialises payload writes.
	writeMu sync.Mutex
}

type hciLink struct {
	p        gatt.Peripheral
	services map[string]*gatt.Service
	chars    map[string]*gatt.Characteristic // keyed by service/char
}

// NewHCICentral opens the first available HCI device.
func NewHCICentral(opts BackendOptions) (*HCICentral, error) {
	device, err := gatt.NewDevice(hciDeviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("ble: open hci device: %w", err)
	}
	opts = opts.withDefaults()
	return &HCICentral{
		device:    device,
		opts:      opts,
		log:       opts.Logger,
		powered:   make(chan struct{}),
		sighted:   make(map[PeripheralID]gatt.Peripheral),
		links:     make(map[PeripheralID]*hciLink),
	}, nil
}

func newHCICentral(opts BackendOptions) (Central, error) {
	return NewHCICentral(opts)
}

// Enable registers the gatt handlers and waits for the controller to power
// on.
func (h *HCICentral) Enable() error {
	h.device.Handle(
		gatt.AddPeripheralDiscovered(h.onDiscovered),
		gatt.AddPeripheralConnected(h.onConnected),
		gatt.AddPeripheralDisconnected(h.onDisconnected),
	)
	if err := h.device.Init(h.onStateChanged); err != nil {
		return fmt.Errorf("ble: init hci device: %w", err)
	}

	select {
	case <-h.powered:
		return nil
	case <-time.After(hciPowerTimeout):
		return errors.New("ble: hci device did not power on")
	}
}

func (h *HCICentral) SetEventHandler(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

func (h *HCICentral) emit(ev Event) {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *HCICentral) StartScan() error {
	// Duplicates are reported so later advertisements refresh RSSI and name.
	return h.device.Scan([]gatt.UUID{}, true)
}

func (h *HCICentral) StopScan() error {
	return h.device.StopScanning()
}

func (h *HCICentral) Connect(id PeripheralID) error {
	h.mu.Lock()
	p, ok := h.sighted[id]
	var seq uint64
	if ok {
		seq = h.requested.begin(id)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s has not been seen in a scan", ErrUnknownPeripheral, id)
	}

	go func() {
		if err := h.device.Connect(p); err != nil {
			h.mu.Lock()
			wanted := h.requested.finish(id, seq)
			h.mu.Unlock()
			if wanted {
				h.emit(ConnectResult{ID: id, Err: err})
			}
		}
	}()
	return nil
}

func (h *HCICentral) link(id PeripheralID) (*hciLink, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	return l, nil
}

func (h *HCICentral) DiscoverServices(id PeripheralID, uuids []string) error {
	l, err := h.link(id)
	if err != nil {
		return err
	}

	go func() {
		ss, err := l.p.DiscoverServices(nil)
		if err != nil {
			h.emit(ServicesDiscovered{ID: id, Err: err})
			return
		}
		var out []ServiceDescriptor
		h.mu.Lock()
		for _, s := range ss {
			uuid := NormalizeUUID(s.UUID().String())
			if len(uuids) > 0 && !containsUUID(uuids, uuid) {
				continue
			}
			l.services[uuid] = s
			out = append(out, ServiceDescriptor{UUID: uuid})
		}
		h.mu.Unlock()
		h.emit(ServicesDiscovered{ID: id, Services: out})
	}()
	return nil
}

func (h *HCICentral) DiscoverCharacteristics(id PeripheralID, service string, uuids []string) error {
	l, err := h.link(id)
	if err != nil {
		return err
	}
	service = NormalizeUUID(service)
	h.mu.Lock()
	s, ok := l.services[service]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: service %s not discovered on %s", service, id)
	}

	go func() {
		cs, err := l.p.DiscoverCharacteristics(nil, s)
		if err != nil {
			h.emit(CharacteristicsDiscovered{ID: id, ServiceUUID: service, Err: err})
			return
		}
		var out []CharacteristicDescriptor
		h.mu.Lock()
		for _, c := range cs {
			uuid := NormalizeUUID(c.UUID().String())
			if len(uuids) > 0 && !containsUUID(uuids, uuid) {
				continue
			}
			l.chars[service+"/"+uuid] = c
			out = append(out, CharacteristicDescriptor{UUID: uuid, Capabilities: gattCapabilities(c.Properties())})
		}
		h.mu.Unlock()
		h.emit(CharacteristicsDiscovered{ID: id, ServiceUUID: service, Characteristics: out})
	}()
	return nil
}

func (h *HCICentral) Write(id PeripheralID, service, char string, data []byte, withResponse bool, token uint64) error {
	l, err := h.link(id)
	if err != nil {
		return err
	}
	key := NormalizeUUID(service) + "/" + NormalizeUUID(char)
	h.mu.Lock()
	c, ok := l.chars[key]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not discovered on %s", char, id)
	}

	go func() {
		h.writeMu.Lock()
		defer h.writeMu.Unlock()

		chunks := protocol.ChunkBytes(data, h.opts.ChunkSize)
		for i, chunk := range chunks {
			if err := l.p.WriteCharacteristic(c, chunk, !withResponse); err != nil {
				h.writeDone(id, withResponse, token, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
				return
			}
			if h.opts.ChunkDelay > 0 && i < len(chunks)-1 {
				time.Sleep(h.opts.ChunkDelay)
			}
		}
		h.log.Debugf("[BLE] wrote %d bytes in %d chunks to %s", len(data), len(chunks), id)
		h.writeDone(id, withResponse, token, nil)
	}()
	return nil
}

// writeDone reports an acknowledged write. Failures of unacknowledged
// writes are only logged.
func (h *HCICentral) writeDone(id PeripheralID, withResponse bool, token uint64, err error) {
	if withResponse {
		h.emit(WriteResult{ID: id, Token: token, Err: err})
		return
	}
	if err != nil {
		h.log.Warnf("[BLE] write to %s: %v", id, err)
	}
}

func (h *HCICentral) Disconnect(id PeripheralID) error {
	h.mu.Lock()
	l, linked := h.links[id]
	p, sighted := h.sighted[id]
	delete(h.links, id)
	h.requested.take(id)
	h.mu.Unlock()

	switch {
	case linked:
		p = l.p
	case !sighted:
		return nil
	}
	go func() {
		if err := h.device.CancelConnection(p); err != nil {
			h.log.Debugf("[BLE] cancel connection to %s: %v", id, err)
		}
	}()
	return nil
}

func (h *HCICentral) IsConnected(id PeripheralID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.links[id]
	return ok
}

func (h *HCICentral) onStateChanged(d gatt.Device, s gatt.State) {
	h.log.Debugf("[BLE] hci device state %s", s)
	if s == gatt.StatePoweredOn {
		h.poweredOnce.Do(func() { close(h.powered) })
	}
}

func (h *HCICentral) onDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {
	id := PeripheralID(p.ID())
	name := p.Name()
	var services []string
	if adv != nil {
		if adv.LocalName != "" {
			name = adv.LocalName
		}
		for _, u := range adv.Services {
			services = append(services, NormalizeUUID(u.String()))
		}
	}

	h.mu.Lock()
	h.sighted[id] = p
	h.mu.Unlock()

	h.emit(Discovered{ID: id, Name: name, ServiceUUIDs: services, RSSI: rssi})
}

func (h *HCICentral) onConnected(p gatt.Peripheral, err error) {
	id := PeripheralID(p.ID())
	h.mu.Lock()
	wanted := h.requested.take(id)
	h.mu.Unlock()

	if !wanted {
		if err == nil {
			_ = h.device.CancelConnection(p)
		}
		return
	}
	if err != nil {
		h.emit(ConnectResult{ID: id, Err: err})
		return
	}

	if merr := p.SetMTU(hciMTU); merr != nil {
		h.log.Warnf("[BLE] set MTU on %s: %v", id, merr)
	}
	h.mu.Lock()
	h.links[id] = &hciLink{
		p:        p,
		services: make(map[string]*gatt.Service),
		chars:    make(map[string]*gatt.Characteristic),
	}
	h.mu.Unlock()
	h.emit(ConnectResult{ID: id})
}

func (h *HCICentral) onDisconnected(p gatt.Peripheral, err error) {
	id := PeripheralID(p.ID())
	h.mu.Lock()
	_, linked := h.links[id]
	wanted := h.requested.take(id)
	delete(h.links, id)
	h.mu.Unlock()

	if linked || wanted {
		h.emit(PeripheralDisconnected{ID: id, Err: err})
	}
}

func gattCapabilities(p gatt.Property) Capability {
	var c Capability
	if p&gatt.CharRead != 0 {
		c |= CapRead
	}
	if p&gatt.CharWrite != 0 {
		c |= CapWrite
	}
	if p&gatt.CharWriteNR != 0 {
		c |= CapWriteWithoutResponse
	}
	if p&(gatt.CharNotify|gatt.CharIndicate) != 0 {
		c |= CapNotify
	}
	return c
}

// Compile-time check that HCICentral implements Central.
var _ Central = (*HCICentral)(nil)
