// Package ble provides the Bluetooth Low Energy client for ESC/POS thermal
// printers. It discovers printer peripherals, negotiates a writable GATT
// characteristic across printer firmwares and drives one print job at a time.
package ble

import (
	"fmt"
	"strings"
)

// Printer GATT UUIDs
const (
	PrimaryServiceUUID     = "00001101-0000-1000-8000-00805f9b34fb" // SPP-style default service
	AlternateServiceUUID   = "0000ff00-0000-1000-8000-00805f9b34fb"
	AlternateWriteCharUUID = "0000ff02-0000-1000-8000-00805f9b34fb"
	SPPFallbackChar1UUID   = "0000fff1-0000-1000-8000-00805f9b34fb"
	SPPFallbackChar2UUID   = "0000fff2-0000-1000-8000-00805f9b34fb"
)

var (
	printerServiceUUIDs  = []string{PrimaryServiceUUID, AlternateServiceUUID}
	sppFallbackCharUUIDs = []string{SPPFallbackChar1UUID, SPPFallbackChar2UUID}
)

// PrinterServiceUUIDs returns the service UUIDs that identify a printer.
func PrinterServiceUUIDs() []string {
	return append([]string(nil), printerServiceUUIDs...)
}

// SPPFallbackCharUUIDs returns the characteristic UUIDs tried when a service
// does not expose a usable characteristic on the first discovery round.
func SPPFallbackCharUUIDs() []string {
	return append([]string(nil), sppFallbackCharUUIDs...)
}

func isPrinterService(uuid string) bool {
	return containsUUID(printerServiceUUIDs, uuid)
}

func isSPPFallbackChar(uuid string) bool {
	return containsUUID(sppFallbackCharUUIDs, uuid)
}

// PeripheralID identifies a peripheral for the lifetime of the OS Bluetooth
// session: a MAC address on Linux and Windows, a CoreBluetooth UUID on macOS.
type PeripheralID string

// Capability is a set of GATT characteristic property flags.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapWriteWithoutResponse
	CapNotify
)

// Has reports whether all flags in f are set.
func (c Capability) Has(f Capability) bool {
	return c&f == f
}

// CanWrite reports whether either write flavour is set.
func (c Capability) CanWrite() bool {
	return c&(CapWrite|CapWriteWithoutResponse) != 0
}

func (c Capability) String() string {
	var parts []string
	for _, f := range []struct {
		flag Capability
		name string
	}{
		{CapRead, "read"},
		{CapWrite, "write"},
		{CapWriteWithoutResponse, "write-without-response"},
		{CapNotify, "notify"},
	} {
		if c.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CharacteristicDescriptor describes a discovered GATT characteristic.
type CharacteristicDescriptor struct {
	UUID         string
	Capabilities Capability
}

func (c CharacteristicDescriptor) String() string {
	return fmt.Sprintf("%s (%s)", c.UUID, c.Capabilities)
}

// ServiceDescriptor describes a discovered GATT service. Characteristics is
// empty until characteristic discovery has run for the service.
type ServiceDescriptor struct {
	UUID            string
	Characteristics []CharacteristicDescriptor
}

// PrinterCandidate is the latest sighting of a peripheral accepted by the
// device filter.
type PrinterCandidate struct {
	ID           PeripheralID `json:"id"`
	Name         string       `json:"name,omitempty"`
	ServiceUUIDs []string     `json:"serviceUuids,omitempty"`
	RSSI         int          `json:"rssi"`
}

// Central abstracts the BLE hardware. Request methods must not block: the
// outcome of each request is delivered later as an Event through the handler
// registered with SetEventHandler. A non-nil error returned by a request
// method means the request was never issued.
type Central interface {
	// Enable powers on the adapter.
	Enable() error
	// SetEventHandler registers the receiver of all hardware events.
	// Implementations may invoke it from any goroutine.
	SetEventHandler(handler func(Event))
	// StartScan begins reporting Discovered events.
	StartScan() error
	// StopScan stops reporting Discovered events.
	StopScan() error
	// Connect requests a connection, answered by ConnectResult.
	Connect(id PeripheralID) error
	// DiscoverServices requests the services matching serviceUUIDs,
	// answered by ServicesDiscovered.
	DiscoverServices(id PeripheralID, serviceUUIDs []string) error
	// DiscoverCharacteristics requests the characteristics of a service
	// matching charUUIDs (all of them when charUUIDs is nil), answered by
	// CharacteristicsDiscovered.
	DiscoverCharacteristics(id PeripheralID, serviceUUID string, charUUIDs []string) error
	// Write sends data to a characteristic. A WriteResult carrying token
	// follows only when withResponse is true.
	Write(id PeripheralID, serviceUUID, charUUID string, data []byte, withResponse bool, token uint64) error
	// Disconnect drops the connection. No PeripheralDisconnected event is
	// reported for a requested disconnect.
	Disconnect(id PeripheralID) error
	// IsConnected reports the live link state of a peripheral.
	IsConnected(id PeripheralID) bool
}

// Event is a notification from the hardware or the client itself. The set
// of events is closed: only types in this package implement it.
type Event interface {
	isEvent()
}

// Discovered reports an advertisement seen while scanning.
type Discovered struct {
	ID           PeripheralID
	Name         string
	ServiceUUIDs []string
	RSSI         int
}

// ConnectResult answers Central.Connect.
type ConnectResult struct {
	ID  PeripheralID
	Err error
}

// ServicesDiscovered answers Central.DiscoverServices.
type ServicesDiscovered struct {
	ID       PeripheralID
	Services []ServiceDescriptor
	Err      error
}

// CharacteristicsDiscovered answers Central.DiscoverCharacteristics.
type CharacteristicsDiscovered struct {
	ID              PeripheralID
	ServiceUUID     string
	Characteristics []CharacteristicDescriptor
	Err             error
}

// WriteResult acknowledges a write issued with response. Token is the
// value passed to the Write that caused it.
type WriteResult struct {
	ID    PeripheralID
	Token uint64
	Err   error
}

// PeripheralDisconnected reports a link dropped by the peripheral or the
// radio.
type PeripheralDisconnected struct {
	ID  PeripheralID
	Err error
}

func (Discovered) isEvent()                {}
func (ConnectResult) isEvent()             {}
func (ServicesDiscovered) isEvent()        {}
func (CharacteristicsDiscovered) isEvent() {}
func (WriteResult) isEvent()               {}
func (PeripheralDisconnected) isEvent()    {}
