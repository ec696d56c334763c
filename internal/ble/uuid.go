package ble

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix completes 16- and 32-bit UUIDs to the Bluetooth base UUID.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the lowercase, dashed 128-bit form of a GATT UUID.
// Short 16/32-bit forms ("ff02", "0000ff02") expand against the Bluetooth
// base UUID, and undashed 128-bit forms gain their dashes. Strings that are
// not UUIDs are returned lowercased and trimmed.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 4 || len(s) == 8 {
		if _, err := strconv.ParseUint(s, 16, 32); err == nil {
			return strings.Repeat("0", 8-len(s)) + s + bluetoothBaseSuffix
		}
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return s
	}
	return u.String()
}

// NormalizeUUIDs applies NormalizeUUID to each element. nil stays nil.
func NormalizeUUIDs(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = NormalizeUUID(s)
	}
	return out
}

func sameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

func containsUUID(list []string, s string) bool {
	n := NormalizeUUID(s)
	for _, u := range list {
		if NormalizeUUID(u) == n {
			return true
		}
	}
	return false
}
