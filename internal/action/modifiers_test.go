package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotIsSortedRegardlessOfPressOrder(t *testing.T) {
	a := NewModifierTracker()
	a.Set(RightCtrl, true)
	a.Set(LeftShift, true)

	b := NewModifierTracker()
	b.Set(LeftShift, true)
	b.Set(RightCtrl, true)

	assert.Equal(t, []string{LeftShift, RightCtrl}, a.Snapshot())
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestSnapshotDeduplicates(t *testing.T) {
	tr := NewModifierTracker()
	tr.Set(LeftAlt, true)
	tr.Set(LeftAlt, true)

	assert.Equal(t, []string{LeftAlt}, tr.Snapshot())
	assert.Equal(t, 1, tr.Len())
}

func TestReleaseOfUnheldModifierIsNoop(t *testing.T) {
	tr := NewModifierTracker()
	tr.Set(RightShift, false)
	assert.Empty(t, tr.Snapshot())

	tr.Set(LeftCtrl, true)
	tr.Set(RightShift, false)
	assert.Equal(t, []string{LeftCtrl}, tr.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewModifierTracker()
	tr.Set(LeftShift, true)
	snap := tr.Snapshot()
	snap[0] = "mutated"

	assert.Equal(t, []string{LeftShift}, tr.Snapshot())
}

func TestModifierName(t *testing.T) {
	tests := map[string]string{
		"KEY_LEFTSHIFT":  LeftShift,
		"KEY_RIGHTSHIFT": RightShift,
		"KEY_LEFTCTRL":   LeftCtrl,
		"KEY_RIGHTCTRL":  RightCtrl,
		"KEY_LEFTALT":    LeftAlt,
		"KEY_RIGHTALT":   RightAlt,
	}
	for code, want := range tests {
		got, ok := ModifierName(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, got)
	}

	_, ok := ModifierName("KEY_M")
	assert.False(t, ok)
	_, ok = ModifierName("KEY_LEFTMETA")
	assert.False(t, ok)
}
