package action

import "sort"

// Canonical modifier names as they appear in tap labels.
const (
	LeftShift  = "LeftShift"
	RightShift = "RightShift"
	LeftCtrl   = "LeftCtrl"
	RightCtrl  = "RightCtrl"
	LeftAlt    = "LeftAlt"
	RightAlt   = "RightAlt"
)

var modifierCodes = map[string]string{
	"KEY_LEFTSHIFT":  LeftShift,
	"KEY_RIGHTSHIFT": RightShift,
	"KEY_LEFTCTRL":   LeftCtrl,
	"KEY_RIGHTCTRL":  RightCtrl,
	"KEY_LEFTALT":    LeftAlt,
	"KEY_RIGHTALT":   RightAlt,
}

// ModifierName maps a raw modifier keycode to its canonical name.
func ModifierName(code string) (string, bool) {
	name, ok := modifierCodes[code]
	return name, ok
}

// ModifierTracker holds the set of modifiers currently down.
// It is not safe for concurrent use.
type ModifierTracker struct {
	held map[string]struct{}
}

// NewModifierTracker returns an empty tracker.
func NewModifierTracker() *ModifierTracker {
	return &ModifierTracker{held: make(map[string]struct{})}
}

// Set marks name as held or released. Releasing a name that is not held is a no-op.
func (t *ModifierTracker) Set(name string, pressed bool) {
	if pressed {
		t.held[name] = struct{}{}
		return
	}
	delete(t.held, name)
}

// Snapshot returns the held modifiers in lexicographic order. The order is
// what makes a combination serialize identically regardless of press order.
func (t *ModifierTracker) Snapshot() []string {
	if len(t.held) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.held))
	for name := range t.held {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of held modifiers.
func (t *ModifierTracker) Len() int {
	return len(t.held)
}
