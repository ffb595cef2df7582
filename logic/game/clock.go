package game

import (
	"time"

	l4g "github.com/alecthomas/log4go"
)

// Clock turns wall time into the cycle the simulation should have
// reached. One cycle is due every speed.
type Clock struct {
	speed     time.Duration
	threshold time.Duration

	last   time.Time // time the current target became due
	target uint32

	paused   bool
	pausedAt time.Time
}

// NewClock starts counting at start with target cycle. A start in the
// future holds the target until that time.
func NewClock(speed, threshold time.Duration, start time.Time, target uint32) *Clock {
	if speed <= 0 {
		speed = 16 * time.Millisecond
	}
	if threshold < speed {
		threshold = speed
	}
	return &Clock{
		speed:     speed,
		threshold: threshold,
		last:      start,
		target:    target,
	}
}

// Advance moves the target forward by every whole cycle elapsed since the
// last one. A gap above the discontinuity threshold counts as one cycle.
func (c *Clock) Advance(now time.Time) uint32 {
	if c.paused {
		return c.target
	}
	pending := now.Sub(c.last)
	if pending > c.threshold {
		l4g.Warn("[clock] %v discontinuity clamped", pending)
		c.last = now.Add(-c.speed)
	}
	for now.Sub(c.last) >= c.speed {
		c.last = c.last.Add(c.speed)
		c.target++
	}
	return c.target
}

func (c *Clock) Pause(now time.Time) {
	if c.paused {
		return
	}
	c.paused = true
	c.pausedAt = now
}

// Resume shifts the anchor by the paused time so no catch-up follows.
func (c *Clock) Resume(now time.Time) {
	if !c.paused {
		return
	}
	c.paused = false
	c.last = c.last.Add(now.Sub(c.pausedAt))
}

func (c *Clock) Paused() bool {
	return c.paused
}

func (c *Clock) Target() uint32 {
	return c.target
}

func (c *Clock) Speed() time.Duration {
	return c.speed
}
