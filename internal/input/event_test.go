package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyStateValid(t *testing.T) {
	assert.True(t, StateRelease.Valid())
	assert.True(t, StatePress.Valid())
	assert.True(t, StateRepeat.Valid())
	assert.False(t, KeyState(3).Valid())
	assert.Equal(t, "unknown(7)", KeyState(7).String())
}

func TestTimeFromSecondsRoundsToMicroseconds(t *testing.T) {
	assert.Equal(t, 100*time.Second+349*time.Millisecond, TimeFromSeconds(100.349))
	assert.Equal(t, 351*time.Millisecond, TimeFromSeconds(0.351))
	assert.Equal(t, time.Duration(0), TimeFromSeconds(0))
}
