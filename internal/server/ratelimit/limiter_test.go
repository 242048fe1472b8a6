package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCheck_AllowsUpToMax(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 3, clock.Now)

	for i := 0; i < 3; i++ {
		d := l.Check("ip1")
		assert.True(t, d.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Check("ip1")
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestCheck_IndependentKeys(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 1, clock.Now)

	assert.True(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
	assert.False(t, l.Check("a").Allowed)
}

func TestCheck_WindowExpiryResets(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 1, clock.Now)

	assert.True(t, l.Check("ip1").Allowed)
	assert.False(t, l.Check("ip1").Allowed)

	clock.Advance(time.Minute + time.Second)
	d := l.Check("ip1")
	assert.True(t, d.Allowed)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestSweep_RemovesExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 5, clock.Now)

	l.Check("old")
	clock.Advance(30 * time.Second)
	l.Check("fresh")

	clock.Advance(45 * time.Second) // "old" is expired, "fresh" is not
	removed := l.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
}

func TestRetryAfter_AlwaysPositive(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 1, clock.Now)

	l.Check("ip1")
	d := l.Check("ip1")
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter(clock.Now()), time.Second)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, time.Second, d.RetryAfter(clock.Now()))
}
