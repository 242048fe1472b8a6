package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLast(t *testing.T) {
	l := New(10, nil)

	l.Record(Entry{Level: LevelInfo, Event: "connect", IP: "1.2.3.4"})
	l.Record(Entry{Level: LevelWarn, Event: "rate-limited", IP: "1.2.3.4"})
	l.Record(Entry{Level: LevelSecurity, Event: "blocked", IP: "1.2.3.4"})

	last := l.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "rate-limited", last[0].Event)
	assert.Equal(t, "blocked", last[1].Event)
	assert.False(t, last[1].Time.IsZero())
}

func TestRing_OverwritesOldest(t *testing.T) {
	l := New(3, nil)

	for i := 1; i <= 5; i++ {
		l.Record(Entry{Level: LevelInfo, Event: fmt.Sprintf("e%d", i)})
	}

	last := l.Last(10)
	require.Len(t, last, 3)
	assert.Equal(t, "e3", last[0].Event)
	assert.Equal(t, "e5", last[2].Event)
}

func TestLastByLevel(t *testing.T) {
	l := New(10, nil)

	l.Record(Entry{Level: LevelInfo, Event: "a"})
	l.Record(Entry{Level: LevelSecurity, Event: "b"})
	l.Record(Entry{Level: LevelInfo, Event: "c"})
	l.Record(Entry{Level: LevelSecurity, Event: "d"})

	sec := l.LastByLevel(LevelSecurity, 1)
	require.Len(t, sec, 1)
	assert.Equal(t, "d", sec[0].Event)
}

func TestSecurityEventsSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := New(10, clock)

	l.Security("early", "", "", "1.1.1.1", nil)
	now = now.Add(time.Hour)
	l.Security("late", "", "", "2.2.2.2", nil)

	since := l.SecurityEventsSince(now.Add(-time.Minute))
	require.Len(t, since, 1)
	assert.Equal(t, "late", since[0].Event)
	assert.Equal(t, "2.2.2.2", since[0].IP)
}

func TestEvictOlderThan(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := New(10, clock)

	l.Record(Entry{Level: LevelInfo, Event: "old"})
	now = now.Add(8 * 24 * time.Hour)
	l.Record(Entry{Level: LevelInfo, Event: "fresh"})

	dropped := l.EvictOlderThan(now.Add(-7 * 24 * time.Hour))
	assert.Equal(t, 1, dropped)

	last := l.Last(10)
	require.Len(t, last, 1)
	assert.Equal(t, "fresh", last[0].Event)
}
