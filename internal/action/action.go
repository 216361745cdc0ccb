// Package action turns raw key events into semantic actions: short taps with
// the modifiers held at press time, and long-press begin/end pairs.
package action

import "strings"

// Kind classifies an emitted action. It is not part of the wire format.
type Kind int

const (
	KindTap Kind = iota
	KindLongPressDown
	KindLongPressUp
)

func (k Kind) String() string {
	switch k {
	case KindTap:
		return "tap"
	case KindLongPressDown:
		return "long_press_down"
	case KindLongPressUp:
		return "long_press_up"
	default:
		return "unknown"
	}
}

const (
	longPressDownSuffix = "_DOWN"
	longPressUpSuffix   = "_UP"
)

// Action is an immutable semantic event identified only by its label.
type Action struct {
	Label string
	Kind  Kind
}

// Message is the JSON payload sent to subscribers for one action.
type Message struct {
	Key string `json:"key"`
}

// Message returns the wire form of a.
func (a Action) Message() Message {
	return Message{Key: a.Label}
}

func (a Action) String() string {
	return a.Label
}

// Tap builds a short-tap action. mods must already be in canonical order.
func Tap(code string, mods []string) Action {
	if len(mods) == 0 {
		return Action{Label: code, Kind: KindTap}
	}
	var b strings.Builder
	for _, m := range mods {
		b.WriteString(m)
		b.WriteByte('+')
	}
	b.WriteString(code)
	return Action{Label: b.String(), Kind: KindTap}
}

// LongPressDown builds the action emitted when a hold crosses the threshold.
func LongPressDown(code string) Action {
	return Action{Label: code + longPressDownSuffix, Kind: KindLongPressDown}
}

// LongPressUp builds the action emitted when a long-pressed key is released.
func LongPressUp(code string) Action {
	return Action{Label: code + longPressUpSuffix, Kind: KindLongPressUp}
}
