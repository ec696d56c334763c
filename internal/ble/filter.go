package ble

import "strings"

// printerKeywords match printers by advertised name. Many printers do not
// advertise their service UUIDs before a connection exists.
var printerKeywords = []string{
	"printer", "pos", "thermal", "impressora", "print",
	"epson", "star", "bixolon", "zebra", "mpt", "mpt-ii", "mpt-2",
}

// DeviceFilter classifies advertisements as printer candidates.
// The zero value applies the built-in keyword list only.
type DeviceFilter struct {
	// ExtraKeywords are matched in addition to the built-in list.
	ExtraKeywords []string
}

// Accepts reports whether a sighting is a printer candidate: it advertises a
// printer service, or its lowercased name contains a printer keyword. An
// empty name never matches by name.
func (f DeviceFilter) Accepts(name string, serviceUUIDs []string) bool {
	for _, s := range serviceUUIDs {
		if isPrinterService(s) {
			return true
		}
	}
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range printerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range f.ExtraKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Accepts applies the default DeviceFilter.
func Accepts(name string, serviceUUIDs []string) bool {
	return DeviceFilter{}.Accepts(name, serviceUUIDs)
}
