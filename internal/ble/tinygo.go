package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/bleprint/internal/ble/protocol"
	"tinygo.org/x/bluetooth"
)

// TinygoCentral drives the OS Bluetooth stack through tinygo-org/bluetooth
// (CoreBluetooth on macOS, BlueZ on Linux, WinRT on Windows). Blocking
// library calls run on their own goroutines and report back as events.
//
// The library exposes no portable characteristic property flags, so every
// characteristic is reported as write-without-response.
type TinygoCentral struct {
	adapter *bluetooth.Adapter
	opts    BackendOptions
	log     Logger

	// mu protects the fields below.
	mu      sync.Mutex
	handler func(Event)
	sighted map[PeripheralID]bluetooth.Address
	pending connectRequests
	links   map[PeripheralID]*tinygoLink
	scans   scanRuns

	// writeMu serialises payload writes across peripherals.
	writeMu sync.Mutex
}

type tinygoLink struct {
	device   bluetooth.Device
	services map[string]bluetooth.DeviceService
	chars    map[string]bluetooth.DeviceCharacteristic // keyed by service/char
}

// NewTinygoCentral creates a backend on the default OS adapter.
func NewTinygoCentral(opts BackendOptions) *TinygoCentral {
	opts = opts.withDefaults()
	return &TinygoCentral{
		adapter: bluetooth.DefaultAdapter,
		opts:    opts,
		log:     opts.Logger,
		sighted: make(map[PeripheralID]bluetooth.Address),
		links:   make(map[PeripheralID]*tinygoLink),
	}
}

func (a *TinygoCentral) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// On macOS the library fires this with connected=false from
	// DidDisconnectPeripheral; BlueZ reports it from the device property
	// watcher.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := PeripheralID(device.Address.String())
		a.mu.Lock()
		_, ok := a.links[id]
		delete(a.links, id)
		a.mu.Unlock()
		if ok {
			a.emit(PeripheralDisconnected{ID: id})
		}
	})
	return nil
}

func (a *TinygoCentral) SetEventHandler(h func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *TinygoCentral) emit(ev Event) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (a *TinygoCentral) StartScan() error {
	services := make([]bluetooth.UUID, 0, len(printerServiceUUIDs))
	for _, s := range printerServiceUUIDs {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		services = append(services, u)
	}

	a.mu.Lock()
	gen, prev, done, ok := a.scans.start()
	a.mu.Unlock()
	if !ok {
		return nil
	}

	go func() {
		defer close(done)
		// The library runs one scan at a time; let a stopped run return.
		if prev != nil {
			<-prev
		}
		if !a.scanWanted(gen) {
			return
		}
		err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !a.scanWanted(gen) {
				// Stopped before the scan was running.
				_ = adapter.StopScan()
				return
			}
			id := PeripheralID(result.Address.String())
			var advertised []string
			for _, u := range services {
				if result.HasServiceUUID(u) {
					advertised = append(advertised, NormalizeUUID(u.String()))
				}
			}
			a.mu.Lock()
			a.sighted[id] = result.Address
			a.mu.Unlock()

			a.emit(Discovered{
				ID:           id,
				Name:         result.LocalName(),
				ServiceUUIDs: advertised,
				RSSI:         int(result.RSSI),
			})
		})
		a.mu.Lock()
		a.scans.finish(gen)
		a.mu.Unlock()
		if err != nil {
			a.log.Errorf("[SCAN] scan: %v", err)
		}
	}()
	return nil
}

func (a *TinygoCentral) scanWanted(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans.current(gen)
}

// StopScan ends the current run. A StartScan right after it starts a new run
// once the stopped one has returned.
func (a *TinygoCentral) StopScan() error {
	a.mu.Lock()
	active := a.scans.stop()
	a.mu.Unlock()
	if !active {
		return nil
	}
	return a.adapter.StopScan()
}

func (a *TinygoCentral) Connect(id PeripheralID) error {
	a.mu.Lock()
	addr, ok := a.sighted[id]
	seq := a.pending.begin(id)
	a.mu.Unlock()
	if !ok {
		// On macOS the address wraps a CoreBluetooth UUID, not a MAC.
		addr.Set(string(id))
	}

	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		a.mu.Lock()
		wanted := a.pending.finish(id, seq)
		if err == nil && wanted {
			a.links[id] = &tinygoLink{
				device:   device,
				services: make(map[string]bluetooth.DeviceService),
				chars:    make(map[string]bluetooth.DeviceCharacteristic),
			}
		}
		a.mu.Unlock()

		switch {
		case !wanted && err != nil:
			a.log.Debugf("[BLE] abandoned connect to %s failed: %v", id, err)
		case !wanted:
			// Disconnected or superseded while connecting.
			if derr := device.Disconnect(); derr != nil {
				a.log.Debugf("[BLE] drop abandoned link %s: %v", id, derr)
			}
		case err != nil:
			a.emit(ConnectResult{ID: id, Err: err})
		default:
			a.emit(ConnectResult{ID: id})
		}
	}()
	return nil
}

func (a *TinygoCentral) link(id PeripheralID) (*tinygoLink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	return l, nil
}

func (a *TinygoCentral) DiscoverServices(id PeripheralID, uuids []string) error {
	l, err := a.link(id)
	if err != nil {
		return err
	}

	go func() {
		// Filtered discovery fails on BlueZ when a UUID is absent, so
		// discover everything and filter here.
		svcs, err := l.device.DiscoverServices(nil)
		if err != nil {
			a.emit(ServicesDiscovered{ID: id, Err: err})
			return
		}
		var out []ServiceDescriptor
		a.mu.Lock()
		for _, s := range svcs {
			uuid := NormalizeUUID(s.UUID().String())
			if len(uuids) > 0 && !containsUUID(uuids, uuid) {
				continue
			}
			l.services[uuid] = s
			out = append(out, ServiceDescriptor{UUID: uuid})
		}
		a.mu.Unlock()
		a.emit(ServicesDiscovered{ID: id, Services: out})
	}()
	return nil
}

func (a *TinygoCentral) DiscoverCharacteristics(id PeripheralID, service string, uuids []string) error {
	l, err := a.link(id)
	if err != nil {
		return err
	}
	service = NormalizeUUID(service)
	a.mu.Lock()
	svc, ok := l.services[service]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: service %s not discovered on %s", service, id)
	}

	go func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			a.emit(CharacteristicsDiscovered{ID: id, ServiceUUID: service, Err: err})
			return
		}
		var out []CharacteristicDescriptor
		a.mu.Lock()
		for _, c := range chars {
			uuid := NormalizeUUID(c.UUID().String())
			if len(uuids) > 0 && !containsUUID(uuids, uuid) {
				continue
			}
			l.chars[service+"/"+uuid] = c
			out = append(out, CharacteristicDescriptor{UUID: uuid, Capabilities: CapWriteWithoutResponse})
		}
		a.mu.Unlock()
		a.emit(CharacteristicsDiscovered{ID: id, ServiceUUID: service, Characteristics: out})
	}()
	return nil
}

// Write sends data in chunks. The library has no portable acknowledged
// write, so withResponse only controls whether a WriteResult is emitted.
func (a *TinygoCentral) Write(id PeripheralID, service, char string, data []byte, withResponse bool, token uint64) error {
	l, err := a.link(id)
	if err != nil {
		return err
	}
	key := NormalizeUUID(service) + "/" + NormalizeUUID(char)
	a.mu.Lock()
	c, ok := l.chars[key]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not discovered on %s", char, id)
	}

	go func() {
		a.writeMu.Lock()
		defer a.writeMu.Unlock()

		chunks := protocol.ChunkBytes(data, a.opts.ChunkSize)
		for i, chunk := range chunks {
			if _, err := c.WriteWithoutResponse(chunk); err != nil {
				a.writeDone(id, withResponse, token, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
				return
			}
			if a.opts.ChunkDelay > 0 && i < len(chunks)-1 {
				time.Sleep(a.opts.ChunkDelay)
			}
		}
		a.log.Debugf("[BLE] wrote %d bytes in %d chunks to %s", len(data), len(chunks), id)
		a.writeDone(id, withResponse, token, nil)
	}()
	return nil
}

// writeDone reports an acknowledged write. Failures of unacknowledged
// writes are only logged.
func (a *TinygoCentral) writeDone(id PeripheralID, withResponse bool, token uint64, err error) {
	if withResponse {
		a.emit(WriteResult{ID: id, Token: token, Err: err})
		return
	}
	if err != nil {
		a.log.Warnf("[BLE] write to %s: %v", id, err)
	}
}

func (a *TinygoCentral) Disconnect(id PeripheralID) error {
	a.mu.Lock()
	l, ok := a.links[id]
	delete(a.links, id)
	a.pending.take(id)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	go func() {
		if err := l.device.Disconnect(); err != nil {
			a.log.Warnf("[BLE] disconnect %s: %v", id, err)
		}
	}()
	return nil
}

func (a *TinygoCentral) IsConnected(id PeripheralID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.links[id]
	return ok
}

// Compile-time check that TinygoCentral implements Central.
var _ Central = (*TinygoCentral)(nil)
