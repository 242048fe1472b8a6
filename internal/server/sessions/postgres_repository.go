package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/dbx"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements session storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new WAITING row and returns its repository-assigned id.
func (r *PostgresRepository) Create(ctx context.Context, session *models.Session) (string, error) {
	id := uuid.New().String()

	query := `
		INSERT INTO sessions (id, encrypted_file_name, file_size, encrypted_file_type, file_hash, code_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	_, err := r.db.ExecContext(ctx, query,
		id, session.EncryptedFileName, session.FileSize, session.EncryptedFileType,
		nullable(session.FileHash), nullable(session.CodeHash), string(models.StatusWaiting))
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// Find returns the session row for id, or common.ErrNotFound.
func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, encrypted_file_name, file_size, encrypted_file_type, file_hash, code_hash, status, created_at
		FROM sessions WHERE id=$1
	`

	var (
		result             models.Session
		fileHash, codeHash sql.NullString
		status             string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.EncryptedFileName, &result.FileSize, &result.EncryptedFileType,
		&fileHash, &codeHash, &status, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	result.FileHash = fileHash.String
	result.CodeHash = codeHash.String
	result.Status = models.Status(status)
	return &result, nil
}

// SetStatus updates the row's status. Setting the current status again is a
// no-op; a COMPLETED row only ever accepts COMPLETED again. An unknown id
// returns common.ErrNotFound.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	query := `
		UPDATE sessions SET status=$2
		WHERE id=$1 AND (status <> 'COMPLETED' OR $2 = 'COMPLETED')
	`
	result, err := r.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		// Either the row is gone or a terminal row refused the transition.
		if _, err := r.Find(ctx, id); err != nil {
			return err
		}
		return common.ErrAlreadyDownloaded
	}
	return nil
}

// Delete removes the row for id. Deleting an absent row is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteOlderThan removes rows created before cutoff with a status in
// statuses (all when empty) and returns the number of rows removed.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.Status) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if len(statuses) == 0 {
		result, err = r.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	} else {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		result, err = r.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE created_at < $1 AND status = ANY($2)`, cutoff, names)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
