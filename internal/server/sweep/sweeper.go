// Package sweep runs the periodic cleanup loops: expired sessions,
// stale registry entries, abuse-guard state, and old audit entries.
package sweep

import (
	"context"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/abuse"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/dmitrijs2005/dropwire/internal/server/registry"
	"github.com/dmitrijs2005/dropwire/internal/server/sessions"
)

const (
	// SessionMaxAge is how long a session may live regardless of status.
	SessionMaxAge = 24 * time.Hour

	// AuditRetention is how long audit entries are kept.
	AuditRetention = 7 * 24 * time.Hour

	fullInterval  = time.Hour
	abuseInterval = 5 * time.Minute
)

// Sweeper owns the cleanup timers. The hourly pass covers everything; a
// faster pass keeps the abuse guard's tables small between full runs.
type Sweeper struct {
	repo   sessions.Repository
	reg    *registry.Registry
	guard  *abuse.Guard
	cap    *abuse.SessionCap
	log    *audit.Log
	logger logging.Logger
	now    func() time.Time
}

func New(repo sessions.Repository, reg *registry.Registry, guard *abuse.Guard, sessionCap *abuse.SessionCap, log *audit.Log, logger logging.Logger, clock func() time.Time) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		repo:   repo,
		reg:    reg,
		guard:  guard,
		cap:    sessionCap,
		log:    log,
		logger: logger.With("module", "sweeper"),
		now:    clock,
	}
}

// RunFull executes one complete cleanup pass.
func (s *Sweeper) RunFull(ctx context.Context) {
	cutoff := s.now().Add(-SessionMaxAge)

	purged, err := s.repo.DeleteOlderThan(ctx, cutoff, models.StatusWaiting, models.StatusCompleted)
	if err != nil {
		s.logger.Error(ctx, "session purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info(ctx, "purged expired sessions", "count", purged)
	}

	if removed := s.reg.PurgeOlderThan(SessionMaxAge); removed > 0 {
		s.logger.Info(ctx, "purged stale registry entries", "count", removed)
	}

	s.guard.Cleanup()
	s.cap.Cleanup()

	if dropped := s.log.EvictOlderThan(s.now().Add(-AuditRetention)); dropped > 0 {
		s.logger.Info(ctx, "evicted old audit entries", "count", dropped)
	}
}

// RunAbuseOnly clears expired blocks and idle trackers.
func (s *Sweeper) RunAbuseOnly() {
	s.guard.Cleanup()
	s.cap.Cleanup()
}

// Start launches both timers and blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	full := time.NewTicker(fullInterval)
	defer full.Stop()
	fast := time.NewTicker(abuseInterval)
	defer fast.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			s.RunFull(ctx)
		case <-fast.C:
			s.RunAbuseOnly()
		}
	}
}
