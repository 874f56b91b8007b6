package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlaveStateStartsWithOneTask(t *testing.T) {
	s := NewSlaveState()
	assert.Equal(t, 1, s.Window())
	assert.Zero(t, s.Timeout())
	assert.True(t, s.CanComplete(1000))
}

func TestSlaveStateFirstUpdate(t *testing.T) {
	s := NewSlaveState()
	s.Update(10*time.Millisecond, 1)

	assert.Equal(t, 2, s.Window())
	// est = 0.125 * 10ms, dev = 2 * 10ms; timeout = 2*est + 8*dev
	assert.InDelta(t, float64(162500*time.Microsecond), float64(s.Timeout()), float64(time.Microsecond))
	assert.InDelta(t, float64(42500*time.Microsecond), float64(s.TimeLimit()), float64(time.Microsecond))
}

func TestSlaveStateGrowsAndShrinks(t *testing.T) {
	s := NewSlaveState()
	s.Update(10*time.Millisecond, 1)
	require.Equal(t, 2, s.Window())

	s.Update(10*time.Millisecond, 2)
	assert.Equal(t, 4, s.Window())

	s.Update(time.Hour, 4)
	assert.Equal(t, 2, s.Window(), "a late batch halves the window")
}

func TestSlaveStateLinearGrowthPastThreshold(t *testing.T) {
	s := NewSlaveState()
	s.Update(10*time.Millisecond, 1)
	for s.Window() < windowThreshold {
		s.Update(0, s.Window())
	}
	require.Equal(t, windowThreshold, s.Window())

	s.Update(0, s.Window())
	assert.Equal(t, windowThreshold+1, s.Window())
	s.Update(0, s.Window())
	assert.Equal(t, windowThreshold+2, s.Window())
}

func TestSlaveStateExpire(t *testing.T) {
	s := NewSlaveState()
	s.Expire()
	assert.Equal(t, 1, s.Window(), "window never drops below one")

	s.Update(10*time.Millisecond, 1)
	s.Update(10*time.Millisecond, 2)
	require.Equal(t, 4, s.Window())
	s.Expire()
	assert.Equal(t, 2, s.Window())
	assert.Contains(t, s.String(), "timeouts: 2")
}

func TestSlaveStateCanComplete(t *testing.T) {
	s := NewSlaveState()
	s.Update(10*time.Minute, 1)

	// per task: est 1.25min + dev 20min
	assert.True(t, s.CanComplete(2))
	assert.False(t, s.CanComplete(3))
}

func TestSlaveStateTimeoutCapped(t *testing.T) {
	s := NewSlaveState()
	s.Update(30*time.Minute, 1)
	assert.Equal(t, maxRunningTime, s.Timeout())
}

func TestSlaveStateIgnoresEmptyBatch(t *testing.T) {
	s := NewSlaveState()
	s.Update(time.Second, 0)
	assert.Equal(t, 1, s.Window())
	assert.Zero(t, s.Timeout())
}
