package ble

// Resolve picks the characteristic of svc to print through. First match wins:
//
//  1. an SPP fallback characteristic (fff1, fff2)
//  2. the first characteristic with write or write-without-response
//  3. the first characteristic at all
//
// Rule 3 keeps printers with undocumented firmware usable, at the price of
// occasionally selecting a characteristic that cannot be written. The result
// is false only when svc has no characteristics.
func Resolve(svc ServiceDescriptor) (CharacteristicDescriptor, bool) {
	chars := svc.Characteristics
	for _, c := range chars {
		if isSPPFallbackChar(c.UUID) {
			return c, true
		}
	}
	for _, c := range chars {
		if c.Capabilities.CanWrite() {
			return c, true
		}
	}
	if len(chars) > 0 {
		return chars[0], true
	}
	return CharacteristicDescriptor{}, false
}
