package ble

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// centralCall records one request made to the mock central.
type centralCall struct {
	op           string
	id           PeripheralID
	service      string
	uuids        []string
	data         []byte
	withResponse bool
	token        uint64
}

// mockCentral records requests and lets tests inject hardware events.
type mockCentral struct {
	mu        sync.Mutex
	handler   func(Event)
	history   []centralCall
	connected map[PeripheralID]bool
	enableErr error
	writeErr  error
	respond   func(centralCall) []Event

	calls chan centralCall
}

func newMockCentral() *mockCentral {
	return &mockCentral{
		connected: make(map[PeripheralID]bool),
		calls:     make(chan centralCall, 256),
	}
}

func (m *mockCentral) record(c centralCall) {
	m.mu.Lock()
	m.history = append(m.history, c)
	respond := m.respond
	m.mu.Unlock()
	m.calls <- c

	if respond != nil {
		if evs := respond(c); len(evs) > 0 {
			go func() {
				for _, ev := range evs {
					m.emit(ev)
				}
			}()
		}
	}
}

// autoRespond answers requests with the events returned by fn, delivered
// asynchronously like a real backend.
func (m *mockCentral) autoRespond(fn func(centralCall) []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

func (m *mockCentral) Enable() error { return m.enableErr }

func (m *mockCentral) SetEventHandler(h func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockCentral) StartScan() error {
	m.record(centralCall{op: "StartScan"})
	return nil
}

func (m *mockCentral) StopScan() error {
	m.record(centralCall{op: "StopScan"})
	return nil
}

func (m *mockCentral) Connect(id PeripheralID) error {
	m.record(centralCall{op: "Connect", id: id})
	return nil
}

func (m *mockCentral) DiscoverServices(id PeripheralID, uuids []string) error {
	m.record(centralCall{op: "DiscoverServices", id: id, uuids: uuids})
	return nil
}

func (m *mockCentral) DiscoverCharacteristics(id PeripheralID, service string, uuids []string) error {
	m.record(centralCall{op: "DiscoverCharacteristics", id: id, service: service, uuids: uuids})
	return nil
}

func (m *mockCentral) Write(id PeripheralID, service, char string, data []byte, withResponse bool, token uint64) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.record(centralCall{op: "Write", id: id, service: service, uuids: []string{char}, data: cp, withResponse: withResponse, token: token})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *mockCentral) Disconnect(id PeripheralID) error {
	m.mu.Lock()
	delete(m.connected, id)
	m.mu.Unlock()
	m.record(centralCall{op: "Disconnect", id: id})
	return nil
}

func (m *mockCentral) IsConnected(id PeripheralID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[id]
}

// emit delivers a hardware event the way a backend would.
func (m *mockCentral) emit(ev Event) {
	m.mu.Lock()
	switch ev := ev.(type) {
	case ConnectResult:
		if ev.Err == nil {
			m.connected[ev.ID] = true
		}
	case PeripheralDisconnected:
		delete(m.connected, ev.ID)
	}
	h := m.handler
	m.mu.Unlock()
	h(ev)
}

// dropLink loses the link silently, without a disconnect event.
func (m *mockCentral) dropLink(id PeripheralID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connected, id)
}

func (m *mockCentral) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// callsOf returns every recorded request of the given kind.
func (m *mockCentral) callsOf(op string) []centralCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []centralCall
	for _, c := range m.history {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// waitCall blocks until the client issues a request of the given kind,
// skipping other requests.
func (m *mockCentral) waitCall(t *testing.T, op string) centralCall {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-m.calls:
			if c.op == op {
				return c
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s request", op)
			return centralCall{}
		}
	}
}

func TestMockCentralImplementsInterface(t *testing.T) {
	var _ Central = (*mockCentral)(nil)
}

func TestMockCentralTracksLink(t *testing.T) {
	m := newMockCentral()
	var got []Event
	m.SetEventHandler(func(ev Event) { got = append(got, ev) })

	m.emit(ConnectResult{ID: "p1"})
	if !m.IsConnected("p1") {
		t.Fatal("IsConnected() = false after successful connect")
	}
	m.emit(PeripheralDisconnected{ID: "p1", Err: errors.New("gone")})
	if m.IsConnected("p1") {
		t.Fatal("IsConnected() = true after disconnect event")
	}
	if len(got) != 2 {
		t.Errorf("handler saw %d events, want 2", len(got))
	}
}
