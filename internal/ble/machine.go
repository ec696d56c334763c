package ble

import (
	"errors"
	"fmt"
	"time"
)

// connectTimeout fires when a connection attempt has not reached Ready or
// Failed within the connect window.
type connectTimeout struct {
	attempt uint64
}

func (connectTimeout) isEvent() {}

// serviceProgress tracks characteristic discovery for one printer service.
type serviceProgress struct {
	uuid      string
	pending   bool // a discovery request is outstanding
	retried   bool // the fallback round has been issued
	exhausted bool // both rounds resolved nothing
}

// machine is the connection state machine. It is owned by the client loop
// and never touched from another goroutine; time-based transitions arrive
// through post.
type machine struct {
	central Central
	log     Logger
	timeout time.Duration
	post    func(Event)

	state    ConnectionState
	attempt  uint64
	timer    *time.Timer
	services []*serviceProgress
}

func newMachine(central Central, log Logger, timeout time.Duration, post func(Event)) *machine {
	return &machine{
		central: central,
		log:     log,
		timeout: timeout,
		post:    post,
	}
}

// connect starts a new attempt. The caller must have torn down any previous
// connection first.
func (m *machine) connect(id PeripheralID) uint64 {
	m.stopTimer()
	m.attempt++
	m.services = nil
	m.state = ConnectionState{Kind: StateConnecting, Peripheral: id, Attempt: m.attempt}

	attempt := m.attempt
	m.timer = time.AfterFunc(m.timeout, func() {
		m.post(connectTimeout{attempt: attempt})
	})

	m.log.Infof("[BLE] connecting to %s", id)
	if err := m.central.Connect(id); err != nil {
		m.onConnectResult(ConnectResult{ID: id, Err: err})
	}
	return attempt
}

// disconnect handles a requested disconnect from any state.
func (m *machine) disconnect() {
	m.stopTimer()
	id := m.state.Peripheral
	if id != "" && m.state.Kind != StateDisconnected && m.state.Kind != StateFailed {
		if err := m.central.Disconnect(id); err != nil {
			m.log.Warnf("[BLE] disconnect %s: %v", id, err)
		}
		m.log.Infof("[BLE] disconnected from %s", id)
	}
	m.services = nil
	m.state = ConnectionState{Kind: StateDisconnected, Attempt: m.state.Attempt}
}

// downgrade drops a Ready state whose link turned out to be dead.
func (m *machine) downgrade() {
	m.log.Warnf("[BLE] %s reported ready but link is down", m.state.Peripheral)
	m.services = nil
	m.state = ConnectionState{Kind: StateDisconnected, Peripheral: m.state.Peripheral, Attempt: m.state.Attempt}
}

func (m *machine) current(id PeripheralID, kind StateKind) bool {
	return m.state.Kind == kind && m.state.Peripheral == id
}

func (m *machine) onConnectResult(ev ConnectResult) {
	if !m.current(ev.ID, StateConnecting) {
		m.log.Debugf("[BLE] ignoring stale connect result for %s", ev.ID)
		return
	}
	if ev.Err != nil {
		m.fail(wrapDetail(ErrConnect, ev.Err), false)
		return
	}

	m.state.Kind = StateServicesDiscovering
	m.log.Debugf("[BLE] connected to %s, discovering services", ev.ID)
	if err := m.central.DiscoverServices(ev.ID, PrinterServiceUUIDs()); err != nil {
		m.onServicesDiscovered(ServicesDiscovered{ID: ev.ID, Err: err})
	}
}

func (m *machine) onServicesDiscovered(ev ServicesDiscovered) {
	if !m.current(ev.ID, StateServicesDiscovering) {
		m.log.Debugf("[BLE] ignoring stale service discovery for %s", ev.ID)
		return
	}
	if ev.Err != nil {
		m.fail(wrapDetail(ErrNoCharacteristic, fmt.Errorf("discover services: %w", ev.Err)), true)
		return
	}

	m.services = nil
	for _, svc := range ev.Services {
		uuid := NormalizeUUID(svc.UUID)
		if !isPrinterService(uuid) || m.progress(uuid) != nil {
			continue
		}
		m.services = append(m.services, &serviceProgress{uuid: uuid})
	}
	if len(m.services) == 0 {
		m.fail(fmt.Errorf("%w: %s exposes no printer service", ErrNoCharacteristic, ev.ID), true)
		return
	}

	m.state.Kind = StateCharacteristicsDiscovering
	for _, p := range m.services {
		if m.state.Kind != StateCharacteristicsDiscovering {
			return
		}
		// The primary service variant does not reliably expose documented
		// characteristic UUIDs, so it is always searched in full.
		var filter []string
		if p.uuid == AlternateServiceUUID {
			filter = []string{AlternateWriteCharUUID}
		}
		m.requestCharacteristics(p, filter)
	}
}

func (m *machine) requestCharacteristics(p *serviceProgress, filter []string) {
	p.pending = true
	id := m.state.Peripheral
	m.log.Debugf("[BLE] discovering characteristics of %s on %s (filter %v)", p.uuid, id, filter)
	if err := m.central.DiscoverCharacteristics(id, p.uuid, filter); err != nil {
		m.onCharacteristicsDiscovered(CharacteristicsDiscovered{ID: id, ServiceUUID: p.uuid, Err: err})
	}
}

func (m *machine) onCharacteristicsDiscovered(ev CharacteristicsDiscovered) {
	if !m.current(ev.ID, StateCharacteristicsDiscovering) {
		m.log.Debugf("[BLE] ignoring stale characteristic discovery for %s", ev.ID)
		return
	}
	p := m.progress(ev.ServiceUUID)
	if p == nil || !p.pending {
		return
	}
	p.pending = false

	var chars []CharacteristicDescriptor
	if ev.Err != nil {
		m.log.Warnf("[BLE] characteristic discovery on %s failed: %v", p.uuid, ev.Err)
	} else {
		chars = ev.Characteristics
	}

	if c, ok := Resolve(ServiceDescriptor{UUID: p.uuid, Characteristics: chars}); ok {
		m.ready(p.uuid, c)
		return
	}

	if !p.retried {
		p.retried = true
		m.requestCharacteristics(p, SPPFallbackCharUUIDs())
		return
	}

	p.exhausted = true
	for _, other := range m.services {
		if !other.exhausted {
			return
		}
	}
	m.fail(fmt.Errorf("%w on %s", ErrNoCharacteristic, ev.ID), true)
}

func (m *machine) onPeripheralDisconnected(ev PeripheralDisconnected) {
	if ev.ID != m.state.Peripheral {
		return
	}
	switch {
	case m.state.Kind == StateReady:
		m.log.Warnf("[BLE] %s disconnected: %v", ev.ID, ev.Err)
		m.services = nil
		m.state = ConnectionState{Kind: StateDisconnected, Peripheral: ev.ID, Attempt: m.state.Attempt}
	case m.state.Kind.InProgress():
		cause := ev.Err
		if cause == nil {
			cause = errors.New("peripheral disconnected")
		}
		m.fail(wrapDetail(ErrConnect, cause), false)
	}
}

func (m *machine) onTimeout(ev connectTimeout) {
	if ev.attempt != m.attempt || !m.state.Kind.InProgress() {
		return
	}
	m.fail(fmt.Errorf("%w: no response from %s within %s", ErrTimeout, m.state.Peripheral, m.timeout), true)
}

func (m *machine) ready(serviceUUID string, c CharacteristicDescriptor) {
	m.stopTimer()
	m.state = ConnectionState{
		Kind:           StateReady,
		Peripheral:     m.state.Peripheral,
		ServiceUUID:    serviceUUID,
		Characteristic: c,
		Attempt:        m.state.Attempt,
	}
	m.log.Infof("[BLE] ready on %s via %s/%s", m.state.Peripheral, serviceUUID, c)
}

// fail enters StateFailed. release drops the hardware link, which is only
// needed once the peripheral accepted the connection.
func (m *machine) fail(err error, release bool) {
	m.stopTimer()
	id := m.state.Peripheral
	if release {
		if derr := m.central.Disconnect(id); derr != nil {
			m.log.Debugf("[BLE] release %s: %v", id, derr)
		}
	}
	m.services = nil
	m.state = ConnectionState{Kind: StateFailed, Peripheral: id, Err: err, Attempt: m.state.Attempt}
	m.log.Errorf("[BLE] connection to %s failed: %v", id, err)
}

func (m *machine) progress(uuid string) *serviceProgress {
	uuid = NormalizeUUID(uuid)
	for _, p := range m.services {
		if p.uuid == uuid {
			return p
		}
	}
	return nil
}

func (m *machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
