package abuse

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
)

const (
	capWindow         = time.Hour
	maxConcurrent     = 10
	maxCreatedPerHour = 20
)

type capEntry struct {
	active      int
	created     int
	windowStart time.Time
}

// SessionCap bounds how many sessions a single IP may run at once and how
// many it may create inside a rolling hour. Safe for concurrent use.
type SessionCap struct {
	mu      sync.Mutex
	entries map[string]*capEntry
	now     func() time.Time
}

func NewSessionCap(clock func() time.Time) *SessionCap {
	if clock == nil {
		clock = time.Now
	}
	return &SessionCap{entries: make(map[string]*capEntry), now: clock}
}

// Acquire reserves one session slot for ip. The returned error wraps
// common.ErrSessionCapped with a machine-readable reason.
func (c *SessionCap) Acquire(ip string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[ip]
	if !ok {
		e = &capEntry{windowStart: now}
		c.entries[ip] = e
	}
	if now.Sub(e.windowStart) > capWindow {
		e.created = 0
		e.windowStart = now
	}

	if e.active >= maxConcurrent {
		return fmt.Errorf("concurrent-sessions: %w", common.ErrSessionCapped)
	}
	if e.created >= maxCreatedPerHour {
		return fmt.Errorf("hourly-sessions: %w", common.ErrSessionCapped)
	}

	e.active++
	e.created++
	return nil
}

// Release returns a session slot for ip. The count never drops below zero;
// an entry that is both idle and outside its window is removed.
func (c *SessionCap) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return
	}
	if e.active > 0 {
		e.active--
	}
	if e.active == 0 && c.now().Sub(e.windowStart) > capWindow {
		delete(c.entries, ip)
	}
}

// Cleanup removes idle entries whose hourly window has passed.
func (c *SessionCap) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for ip, e := range c.entries {
		if e.active == 0 && now.Sub(e.windowStart) > capWindow {
			delete(c.entries, ip)
			removed++
		}
	}
	return removed
}
