package abuse

import (
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ConcurrentCeiling(t *testing.T) {
	c := NewSessionCap(nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Acquire("1.2.3.4"), "session %d", i+1)
	}

	err := c.Acquire("1.2.3.4")
	require.ErrorIs(t, err, common.ErrSessionCapped)
	assert.Contains(t, err.Error(), "concurrent-sessions")

	// Releasing one slot frees capacity.
	c.Release("1.2.3.4")
	assert.NoError(t, c.Acquire("1.2.3.4"))
}

func TestAcquire_HourlyCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewSessionCap(clock.Now)

	// Churn through 20 creations, releasing each immediately so the
	// concurrent ceiling never trips.
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Acquire("1.2.3.4"))
		c.Release("1.2.3.4")
	}

	err := c.Acquire("1.2.3.4")
	require.ErrorIs(t, err, common.ErrSessionCapped)
	assert.Contains(t, err.Error(), "hourly-sessions")

	// A new hour resets the creation budget.
	clock.Advance(61 * time.Minute)
	assert.NoError(t, c.Acquire("1.2.3.4"))
}

func TestAcquire_IPsAreIndependent(t *testing.T) {
	c := NewSessionCap(nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Acquire(fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.NoError(t, c.Acquire("10.0.0.0"))
}

func TestRelease_ClampsAtZero(t *testing.T) {
	c := NewSessionCap(nil)

	c.Release("1.2.3.4") // unknown IP: no-op
	require.NoError(t, c.Acquire("1.2.3.4"))
	c.Release("1.2.3.4")
	c.Release("1.2.3.4")

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Acquire("1.2.3.4"))
	}
}

func TestCleanup_RemovesIdleEntries(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewSessionCap(clock.Now)

	require.NoError(t, c.Acquire("idle"))
	c.Release("idle")
	require.NoError(t, c.Acquire("busy"))

	clock.Advance(2 * time.Hour)
	removed := c.Cleanup()
	assert.Equal(t, 1, removed, "only the idle entry goes away")
}
