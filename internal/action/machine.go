package action

import (
	"sort"
	"time"

	"keyrelay/internal/input"
	"keyrelay/internal/observability"
)

// DefaultLongPressThreshold is how long a key must be held, measured at an
// autorepeat event, before it is reported as a long press.
const DefaultLongPressThreshold = 350 * time.Millisecond

// keyRecord is the live state of one held key. Its presence in the machine
// means the key is down; absence means idle.
type keyRecord struct {
	pressedAt       time.Duration
	modsAtPress     []string
	longPressActive bool
}

// Machine classifies raw events into actions.
//
// Long presses are detected on autorepeat events, not with a timer: the
// _DOWN action fires on the first repeat at or past the threshold, so its
// latency is bounded by the device's autorepeat interval. Keys whose device
// never autorepeats always report taps.
//
// A Machine must be driven by a single goroutine.
type Machine struct {
	threshold time.Duration
	mods      *ModifierTracker
	keys      map[string]*keyRecord
	logger    *observability.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithThreshold overrides DefaultLongPressThreshold. Non-positive values are ignored.
func WithThreshold(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithLogger sets the logger used for ignored and stale events.
func WithLogger(logger *observability.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMachine returns a machine with no keys held.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		threshold: DefaultLongPressThreshold,
		mods:      NewModifierTracker(),
		keys:      make(map[string]*keyRecord),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the configured long-press threshold.
func (m *Machine) Threshold() time.Duration {
	return m.threshold
}

// Modifiers returns the held modifiers in canonical order.
func (m *Machine) Modifiers() []string {
	return m.mods.Snapshot()
}

// Held returns the non-modifier keycodes currently down, sorted.
func (m *Machine) Held() []string {
	codes := make([]string, 0, len(m.keys))
	for code := range m.keys {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// HeldCount returns how many non-modifier keys are down.
func (m *Machine) HeldCount() int {
	return len(m.keys)
}

// ModifierCount returns how many modifiers are down.
func (m *Machine) ModifierCount() int {
	return m.mods.Len()
}

// Handle consumes one raw event and returns the action it produced, if any.
func (m *Machine) Handle(ev input.RawEvent) (Action, bool) {
	if name, ok := ModifierName(ev.Code); ok {
		switch ev.State {
		case input.StatePress:
			m.mods.Set(name, true)
		case input.StateRelease:
			m.mods.Set(name, false)
		}
		return Action{}, false
	}

	switch ev.State {
	case input.StatePress:
		m.press(ev)
		return Action{}, false
	case input.StateRepeat:
		return m.repeat(ev)
	case input.StateRelease:
		return m.release(ev)
	default:
		m.logger.Debug("ignoring event with unknown state", "code", ev.Code, "state", int32(ev.State))
		return Action{}, false
	}
}

func (m *Machine) press(ev input.RawEvent) {
	if _, stale := m.keys[ev.Code]; stale {
		// Re-press without a release; the old record is dropped.
		m.logger.Debug("overwriting stale key record", "code", ev.Code)
	}
	m.keys[ev.Code] = &keyRecord{
		pressedAt:   ev.Time,
		modsAtPress: m.mods.Snapshot(),
	}
}

func (m *Machine) repeat(ev input.RawEvent) (Action, bool) {
	rec, ok := m.keys[ev.Code]
	if !ok {
		m.logger.Debug("ignoring repeat without press", "code", ev.Code)
		return Action{}, false
	}
	if rec.longPressActive || ev.Time-rec.pressedAt < m.threshold {
		return Action{}, false
	}
	rec.longPressActive = true
	return LongPressDown(ev.Code), true
}

func (m *Machine) release(ev input.RawEvent) (Action, bool) {
	rec, ok := m.keys[ev.Code]
	if !ok {
		m.logger.Debug("ignoring release without press", "code", ev.Code)
		return Action{}, false
	}
	delete(m.keys, ev.Code)
	if rec.longPressActive {
		return LongPressUp(ev.Code), true
	}
	return Tap(ev.Code, rec.modsAtPress), true
}
