// Package registry holds the volatile per-session state: which endpoint is
// the sender, the one-time access code, and whether the code has been
// spent. The durable truth about a session lives in the repository; the
// registry only has meaning while the sender's connection is alive.
package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
)

type entry struct {
	senderEndpoint string
	code           string
	codeUsed       bool
	createdAt      time.Time
}

// Registry is an in-memory map from session id to its volatile entry.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty registry. A nil clock uses time.Now.
func New(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{entries: make(map[string]*entry), now: clock}
}

// Register creates the entry for a new session, minting its one-time code.
// Exactly one sender per session: registering an id twice replaces the
// previous entry, which only happens if a repository id is ever reused.
func (r *Registry) Register(sessionID, senderEndpoint string) (string, error) {
	code, err := MintCode()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = &entry{
		senderEndpoint: senderEndpoint,
		code:           code,
		createdAt:      r.now(),
	}
	return code, nil
}

// Sender returns the sender endpoint id for the session, or "" when the
// session is unknown.
func (r *Registry) Sender(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[sessionID]; ok {
		return e.senderEndpoint
	}
	return ""
}

// IsSender reports whether endpoint registered the session. This is the
// authorization primitive for sender-privileged actions.
func (r *Registry) IsSender(sessionID, endpoint string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[sessionID]
	return ok && e.senderEndpoint == endpoint
}

// ValidateCode checks a presented code against the session's minted code.
// Input is uppercased first. On success the code is marked used; it can
// never succeed again for this session. Failures are distinct:
// common.ErrNotFound (no entry), common.ErrCodeUsed, common.ErrInvalidCode.
func (r *Registry) ValidateCode(sessionID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return common.ErrNotFound
	}
	if e.codeUsed {
		return common.ErrCodeUsed
	}
	if strings.ToUpper(code) != e.code {
		return common.ErrInvalidCode
	}
	e.codeUsed = true
	return nil
}

// Remove deletes the session's entry.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// ForEndpoint returns the ids of sessions registered by endpoint.
func (r *Registry) ForEndpoint(endpoint string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.entries {
		if e.senderEndpoint == endpoint {
			ids = append(ids, id)
		}
	}
	return ids
}

// PurgeOlderThan removes entries older than age and returns how many.
func (r *Registry) PurgeOlderThan(age time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	removed := 0
	for id, e := range r.entries {
		if e.createdAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
