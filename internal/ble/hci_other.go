//go:build !linux

package ble

func newHCICentral(BackendOptions) (Central, error) {
	return nil, ErrBackendUnsupported
}
