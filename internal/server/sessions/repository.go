// Package sessions persists file-share session metadata. Name and type
// fields are stored as ciphertext envelopes; the repository never sees
// plaintext.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/server/models"
)

// Repository is the durable store for session rows.
//
// Find returns common.ErrNotFound for unknown or deleted ids. SetStatus is
// idempotent; a COMPLETED row never transitions back to ACTIVE or WAITING.
// DeleteOlderThan removes rows created before cutoff whose status is in
// statuses (all statuses when empty) and reports how many went away.
type Repository interface {
	Create(ctx context.Context, session *models.Session) (string, error)
	Find(ctx context.Context, id string) (*models.Session, error)
	SetStatus(ctx context.Context, id string, status models.Status) error
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.Status) (int64, error)
}
