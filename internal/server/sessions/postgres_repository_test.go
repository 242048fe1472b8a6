package sessions

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughConverter lets args of types the default converter rejects
// (e.g. []string, as pgx accepts for ANY($n)) pass through to the mock.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v interface{}) (driver.Value, error) {
	return v, nil
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.ValueConverterOption(passthroughConverter{}),
	)
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresCreate_InsertsWaitingRow(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(sqlmock.AnyArg(), "aa:bb:cc", int64(10240), "dd:ee:ff",
			sql.NullString{}, sql.NullString{}, "WAITING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.Create(context.Background(), &models.Session{
		EncryptedFileName: "aa:bb:cc",
		FileSize:          10240,
		EncryptedFileType: "dd:ee:ff",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFind_ReturnsRow(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "encrypted_file_name", "file_size", "encrypted_file_type",
		"file_hash", "code_hash", "status", "created_at",
	}).AddRow("some-id", "aa:bb:cc", int64(42), "dd:ee:ff", nil, nil, "WAITING", created)

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id=\$1`).
		WithArgs("some-id").
		WillReturnRows(rows)

	s, err := repo.Find(context.Background(), "some-id")
	require.NoError(t, err)
	assert.Equal(t, "some-id", s.ID)
	assert.Equal(t, int64(42), s.FileSize)
	assert.Equal(t, models.StatusWaiting, s.Status)
	assert.Empty(t, s.FileHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFind_NotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id=\$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "gone")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPostgresSetStatus_GuardsCompleted(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	// The guard refuses the update, and the follow-up lookup shows the row
	// still exists, so the caller learns the transition itself was rejected.
	mock.ExpectExec(`UPDATE sessions SET status=\$2`).
		WithArgs("done-id", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id=\$1`).
		WithArgs("done-id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "encrypted_file_name", "file_size", "encrypted_file_type",
			"file_hash", "code_hash", "status", "created_at",
		}).AddRow("done-id", "x", int64(1), "y", nil, nil, "COMPLETED", time.Now()))

	err := repo.SetStatus(context.Background(), "done-id", models.StatusActive)
	assert.ErrorIs(t, err, common.ErrAlreadyDownloaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatus_MissingRowIsNotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE sessions SET status=\$2`).
		WithArgs("gone", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id=\$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	err := repo.SetStatus(context.Background(), "gone", models.StatusActive)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPostgresDeleteOlderThan_FiltersStatuses(t *testing.T) {
	db, mock := newSQLMockDB(t)
	repo := NewPostgresRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(`DELETE FROM sessions WHERE created_at < \$1 AND status = ANY\(\$2\)`).
		WithArgs(cutoff, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff,
		models.StatusWaiting, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
