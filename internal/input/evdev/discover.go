// Package evdev reads raw key events from a Linux input device.
package evdev

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"keyrelay/internal/input"
)

// DefaultNameMatch selects the FLIRC receiver when no static path is configured.
const DefaultNameMatch = "flirc"

// Config selects the input device.
type Config struct {
	// Path is tried first and used as-is when it exists.
	Path string
	// NameMatch is a case-insensitive substring of the device name used
	// when Path is empty or missing.
	NameMatch string
}

func (c Config) withDefaults() Config {
	out := c
	out.Path = strings.TrimSpace(out.Path)
	out.NameMatch = strings.TrimSpace(out.NameMatch)
	if out.NameMatch == "" {
		out.NameMatch = DefaultNameMatch
	}
	return out
}

// DeviceInfo describes one enumerated input device.
type DeviceInfo struct {
	Path string
	Name string
}

// Matches reports whether the device name contains match, ignoring case.
func (d DeviceInfo) Matches(match string) bool {
	match = strings.ToLower(strings.TrimSpace(match))
	if match == "" {
		return false
	}
	return strings.Contains(strings.ToLower(d.Name), match)
}

type lister func() ([]DeviceInfo, error)

type statFunc func(string) (os.FileInfo, error)

// resolve picks the device path: a static path that exists wins, otherwise
// the first enumerated device whose name matches.
func resolve(cfg Config, list lister, stat statFunc) (DeviceInfo, error) {
	cfg = cfg.withDefaults()
	if cfg.Path != "" {
		if _, err := stat(cfg.Path); err == nil {
			return DeviceInfo{Path: cfg.Path}, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return DeviceInfo{}, fmt.Errorf("stat %s: %w", cfg.Path, err)
		}
	}

	devices, err := list()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("list input devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Matches(cfg.NameMatch) {
			return dev, nil
		}
	}
	if cfg.Path != "" {
		return DeviceInfo{}, fmt.Errorf("%w: %s does not exist and no device name contains %q", input.ErrDeviceNotFound, cfg.Path, cfg.NameMatch)
	}
	return DeviceInfo{}, fmt.Errorf("%w: no device name contains %q", input.ErrDeviceNotFound, cfg.NameMatch)
}
