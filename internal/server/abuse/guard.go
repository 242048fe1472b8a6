// Package abuse tracks per-IP connection behavior: burst rejection,
// escalating auto-block, suspicious-event counting, and session
// concurrency ceilings.
package abuse

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
)

const (
	connectionWindow    = time.Minute
	softConnectionLimit = 10
	hardConnectionLimit = 50
	blockDuration       = 15 * time.Minute
	suspiciousThreshold = 5
)

// Verdict is the outcome of a connection check.
type Verdict struct {
	Allowed    bool
	Blocked    bool
	RetryAfter time.Duration
}

type tracker struct {
	connections int
	windowStart time.Time
	blocked     bool
	blockExpiry time.Time
	suspicious  int
}

// Guard watches per-IP connection churn. An IP exceeding the soft limit has
// individual connections refused; exceeding the hard limit inside one window
// blocks the IP outright for a fixed period. Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	trackers map[string]*tracker
	log      *audit.Log
	logger   logging.Logger
	now      func() time.Time
}

func NewGuard(log *audit.Log, logger logging.Logger, clock func() time.Time) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{
		trackers: make(map[string]*tracker),
		log:      log,
		logger:   logger.With("module", "abuse_guard"),
		now:      clock,
	}
}

// TrackConnect records an inbound connection attempt from ip and decides
// whether to accept it.
func (g *Guard) TrackConnect(ip string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	tr, ok := g.trackers[ip]
	if !ok {
		g.trackers[ip] = &tracker{connections: 1, windowStart: now}
		return Verdict{Allowed: true}
	}

	if tr.blocked {
		if now.Before(tr.blockExpiry) {
			return Verdict{Allowed: false, Blocked: true, RetryAfter: tr.blockExpiry.Sub(now)}
		}
		// Block served out; start over.
		*tr = tracker{connections: 1, windowStart: now}
		return Verdict{Allowed: true}
	}

	if now.Sub(tr.windowStart) > connectionWindow {
		tr.connections = 1
		tr.windowStart = now
		return Verdict{Allowed: true}
	}

	tr.connections++

	if tr.connections > hardConnectionLimit {
		tr.blocked = true
		tr.blockExpiry = now.Add(blockDuration)
		g.log.Security("ip_auto_blocked", "", "", ip, map[string]any{
			"connections": tr.connections,
			"window_s":    int(connectionWindow.Seconds()),
			"block_min":   int(blockDuration.Minutes()),
		})
		g.logger.Warn(context.Background(), "auto-blocked abusive IP", "ip", ip, "connections", tr.connections)
		return Verdict{Allowed: false, Blocked: true, RetryAfter: blockDuration}
	}

	if tr.connections > softConnectionLimit {
		tr.suspicious++
		g.noteSuspiciousLocked(ip, tr, "connection_burst")
		return Verdict{Allowed: false}
	}

	return Verdict{Allowed: true}
}

// TrackDisconnect lowers the connection count for ip. Blocked entries keep
// their count so the block window stays intact.
func (g *Guard) TrackDisconnect(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr, ok := g.trackers[ip]
	if !ok || tr.blocked {
		return
	}
	if tr.connections > 0 {
		tr.connections--
	}
}

// MarkSuspicious counts a rule violation (bad uuid, wrong code, off-room
// signal, limiter breach) attributed to ip.
func (g *Guard) MarkSuspicious(ip, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	tr, ok := g.trackers[ip]
	if !ok {
		tr = &tracker{windowStart: now}
		g.trackers[ip] = tr
	}
	tr.suspicious++
	g.noteSuspiciousLocked(ip, tr, reason)
}

func (g *Guard) noteSuspiciousLocked(ip string, tr *tracker, reason string) {
	if tr.suspicious == suspiciousThreshold {
		g.log.Security("suspicious_activity_elevated", "", "", ip, map[string]any{
			"events": tr.suspicious,
			"reason": reason,
		})
		g.logger.Warn(context.Background(), "elevated suspicious activity", "ip", ip, "events", tr.suspicious)
	}
}

// SuspiciousCount reports the suspicious-event counter for ip.
func (g *Guard) SuspiciousCount(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tr, ok := g.trackers[ip]; ok {
		return tr.suspicious
	}
	return 0
}

// Cleanup drops expired blocks and idle trackers, returning how many
// entries were removed.
func (g *Guard) Cleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for ip, tr := range g.trackers {
		if tr.blocked && now.Before(tr.blockExpiry) {
			continue
		}
		idle := now.Sub(tr.windowStart) > connectionWindow && tr.connections == 0
		expired := tr.blocked && !now.Before(tr.blockExpiry)
		if idle || expired {
			delete(g.trackers, ip)
			removed++
		}
	}
	return removed
}
