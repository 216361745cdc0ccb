package evdev

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyrelay/internal/input"
)

func staticList(devices ...DeviceInfo) lister {
	return func() ([]DeviceInfo, error) { return devices, nil }
}

func statExisting(paths ...string) statFunc {
	return func(p string) (os.FileInfo, error) {
		for _, existing := range paths {
			if p == existing {
				return nil, nil
			}
		}
		return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
}

func TestResolvePrefersExistingStaticPath(t *testing.T) {
	list := func() ([]DeviceInfo, error) {
		t.Fatal("device list should not be consulted")
		return nil, nil
	}

	info, err := resolve(Config{Path: "/dev/input/by-id/flirc-kbd"}, list, statExisting("/dev/input/by-id/flirc-kbd"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/by-id/flirc-kbd", info.Path)
}

func TestResolveFallsBackToNameMatch(t *testing.T) {
	list := staticList(
		DeviceInfo{Path: "/dev/input/event0", Name: "AT Translated Set 2 keyboard"},
		DeviceInfo{Path: "/dev/input/event5", Name: "flirc.tv flirc Keyboard"},
		DeviceInfo{Path: "/dev/input/event6", Name: "flirc.tv flirc Consumer Control"},
	)

	info, err := resolve(Config{Path: "/dev/input/by-id/missing"}, list, statExisting())
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event5", info.Path)
	assert.Equal(t, "flirc.tv flirc Keyboard", info.Name)
}

func TestResolveCustomNameMatchIsCaseInsensitive(t *testing.T) {
	list := staticList(
		DeviceInfo{Path: "/dev/input/event2", Name: "Logitech USB Receiver"},
	)

	info, err := resolve(Config{NameMatch: "LOGITECH"}, list, statExisting())
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event2", info.Path)
}

func TestResolveNotFound(t *testing.T) {
	_, err := resolve(Config{}, staticList(DeviceInfo{Path: "/dev/input/event0", Name: "Power Button"}), statExisting())
	require.Error(t, err)
	assert.True(t, errors.Is(err, input.ErrDeviceNotFound))
}

func TestResolveListError(t *testing.T) {
	boom := errors.New("permission denied")
	_, err := resolve(Config{}, func() ([]DeviceInfo, error) { return nil, boom }, statExisting())
	require.ErrorIs(t, err, boom)
}

func TestDeviceInfoMatchesEmptyPattern(t *testing.T) {
	assert.False(t, DeviceInfo{Name: "flirc"}.Matches("  "))
}
