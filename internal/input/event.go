// Package input defines the raw key event model and the sources that produce it.
package input

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// KeyState is the evdev key value carried by a raw event.
type KeyState int32

const (
	// StateRelease is reported when a key goes up.
	StateRelease KeyState = 0
	// StatePress is reported when a key goes down.
	StatePress KeyState = 1
	// StateRepeat is the autorepeat signal for a held key.
	StateRepeat KeyState = 2
)

func (s KeyState) String() string {
	switch s {
	case StateRelease:
		return "release"
	case StatePress:
		return "press"
	case StateRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Valid reports whether s is one of the three known key states.
func (s KeyState) Valid() bool {
	return s == StateRelease || s == StatePress || s == StateRepeat
}

// RawEvent is one key event as read from the device.
//
// Code is the opaque key name (e.g. "KEY_M", "KEY_LEFTSHIFT"). Time is an
// offset on the source's monotonic clock; only differences between events
// of the same source are meaningful.
type RawEvent struct {
	Code  string
	State KeyState
	Time  time.Duration
}

func (e RawEvent) String() string {
	return fmt.Sprintf("%s %s @%s", e.Code, e.State, e.Time)
}

var (
	// ErrDeviceNotFound is returned when discovery finds no matching input device.
	ErrDeviceNotFound = errors.New("input device not found")
	// ErrUnsupported is returned by device sources on platforms without evdev.
	ErrUnsupported = errors.New("input devices are not supported on this platform")
)

// Source produces raw key events in strict temporal order.
//
// Next blocks until an event is available. It returns io.EOF when a finite
// source is exhausted. Close unblocks a pending Next.
type Source interface {
	Next() (RawEvent, error)
	Close() error
}

// TimeFromSeconds converts fractional seconds into a source clock offset,
// rounded to the microsecond resolution of kernel input timestamps.
func TimeFromSeconds(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1e6)) * time.Microsecond
}
