package attachments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var refColumnNames = []string{"id", "inspection_id", "row_id", "content_hash", "mime_type", "size", "url", "stored_at"}

func TestGetByKey(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM\s+attachments\s+WHERE\s+idempotency_key\s*=\s*\$1`).
		WithArgs("h:a1").
		WillReturnRows(sqlmock.NewRows(refColumnNames).AddRow("a1", "i1", "r1", "h", "image/jpeg", 12, "", now))

	ref, err := repo.GetByKey(context.Background(), "h:a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", ref.ID)
	assert.Equal(t, int64(12), ref.Size)
}

func TestGetByKey_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM\s+attachments`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByKey(context.Background(), "h:a1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInsert_IgnoresExistingKey(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+attachments\b.*ON\s+CONFLICT\s*\(idempotency_key\)\s*DO\s+NOTHING`).
		WithArgs("h:a1", "a1", "i1", "r1", "h", "image/png", int64(3), "", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Insert(context.Background(), "h:a1", &api.AttachmentRef{
		ID: "a1", InspectionID: "i1", RowID: "r1", ContentHash: "h", MimeType: "image/png", Size: 3, StoredAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
