package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/google/uuid"
)

// InMemoryRepository is a map-backed Repository used by tests and by the
// signaling unit tests, where a database is unnecessary.
type InMemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]models.Session
	now  func() time.Time
}

func NewInMemoryRepository(now func() time.Time) *InMemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &InMemoryRepository{rows: make(map[string]models.Session), now: now}
}

func (r *InMemoryRepository) Create(ctx context.Context, session *models.Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	row := *session
	row.ID = id
	row.Status = models.StatusWaiting
	row.CreatedAt = r.now()
	r.rows[id] = row
	return id, nil
}

func (r *InMemoryRepository) Find(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (r *InMemoryRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	if row.Status == models.StatusCompleted && status != models.StatusCompleted {
		return common.ErrAlreadyDownloaded
	}
	row.Status = status
	r.rows[id] = row
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rows, id)
	return nil
}

func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	match := func(s models.Status) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, want := range statuses {
			if s == want {
				return true
			}
		}
		return false
	}

	var n int64
	for id, row := range r.rows {
		if row.CreatedAt.Before(cutoff) && match(row.Status) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
