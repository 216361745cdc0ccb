//go:build !linux

package evdev

import "keyrelay/internal/input"

// Device is unavailable outside Linux.
type Device struct{}

// List always fails with input.ErrUnsupported.
func List() ([]DeviceInfo, error) {
	return nil, input.ErrUnsupported
}

// Open always fails with input.ErrUnsupported.
func Open(Config) (*Device, error) {
	return nil, input.ErrUnsupported
}

func (d *Device) Info() DeviceInfo { return DeviceInfo{} }

func (d *Device) Next() (input.RawEvent, error) {
	return input.RawEvent{}, input.ErrUnsupported
}

func (d *Device) Close() error { return nil }
