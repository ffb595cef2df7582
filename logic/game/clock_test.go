package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_Advance(t *testing.T) {
	t0 := time.Unix(1000, 0)
	c := NewClock(10*time.Millisecond, time.Second, t0, 0)

	assert.Equal(t, uint32(0), c.Advance(t0.Add(9*time.Millisecond)))
	assert.Equal(t, uint32(1), c.Advance(t0.Add(10*time.Millisecond)))
	assert.Equal(t, uint32(5), c.Advance(t0.Add(55*time.Millisecond)))
	assert.Equal(t, uint32(6), c.Advance(t0.Add(60*time.Millisecond)), "remainder carries over")
}

func TestClock_FutureStart(t *testing.T) {
	t0 := time.Unix(1000, 0)
	c := NewClock(10*time.Millisecond, time.Second, t0.Add(time.Second), 0)
	assert.Equal(t, uint32(0), c.Advance(t0.Add(500*time.Millisecond)))
	assert.Equal(t, uint32(1), c.Advance(t0.Add(1010*time.Millisecond)))
}

func TestClock_DiscontinuityClamped(t *testing.T) {
	t0 := time.Unix(1000, 0)
	c := NewClock(10*time.Millisecond, 100*time.Millisecond, t0, 0)
	assert.Equal(t, uint32(1), c.Advance(t0.Add(time.Hour)))
	assert.Equal(t, uint32(2), c.Advance(t0.Add(time.Hour+10*time.Millisecond)))
}

func TestClock_PauseResume(t *testing.T) {
	t0 := time.Unix(1000, 0)
	c := NewClock(10*time.Millisecond, time.Minute, t0, 0)
	assert.Equal(t, uint32(2), c.Advance(t0.Add(25*time.Millisecond)))

	c.Pause(t0.Add(25 * time.Millisecond))
	assert.True(t, c.Paused())
	assert.Equal(t, uint32(2), c.Advance(t0.Add(10*time.Second)))

	c.Resume(t0.Add(10*time.Second + 25*time.Millisecond))
	assert.Equal(t, uint32(2), c.Advance(t0.Add(10*time.Second+29*time.Millisecond)), "no catch-up burst")
	assert.Equal(t, uint32(3), c.Advance(t0.Add(10*time.Second+30*time.Millisecond)))
}
