//go:build linux

package evdev

import (
	"fmt"
	"os"
	"syscall"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"keyrelay/internal/input"
)

// Device is an input.Source backed by an evdev character device.
type Device struct {
	dev  *evdev.InputDevice
	info DeviceInfo
}

// List enumerates every input device visible under /dev/input.
func List() ([]DeviceInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		out = append(out, DeviceInfo{Path: p.Path, Name: p.Name})
	}
	return out, nil
}

// Open resolves the configured device and opens it for reading.
func Open(cfg Config) (*Device, error) {
	info, err := resolve(cfg, List, os.Stat)
	if err != nil {
		return nil, err
	}
	dev, err := evdev.Open(info.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.Path, err)
	}
	if info.Name == "" {
		if name, err := dev.Name(); err == nil {
			info.Name = name
		}
	}
	return &Device{dev: dev, info: info}, nil
}

// Info returns the path and name of the opened device.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Next blocks until the next EV_KEY event. Other event types (sync, scan
// codes, LEDs) are skipped.
func (d *Device) Next() (input.RawEvent, error) {
	for {
		ev, err := d.dev.ReadOne()
		if err != nil {
			return input.RawEvent{}, err
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		return input.RawEvent{
			Code:  ev.CodeName(),
			State: input.KeyState(ev.Value),
			Time:  timevalDuration(ev.Time),
		}, nil
	}
}

// Close releases the device and unblocks a pending Next.
func (d *Device) Close() error {
	return d.dev.Close()
}

func timevalDuration(tv syscall.Timeval) time.Duration {
	return time.Duration(int64(tv.Sec))*time.Second + time.Duration(int64(tv.Usec))*time.Microsecond
}
