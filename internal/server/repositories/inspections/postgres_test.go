package inspections

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
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

var inspectionColumns = []string{"id", "technician_id", "template_id", "version_id", "job_id", "site_id",
	"last_acknowledged", "status", "completed_at", "created_at", "updated_at"}

func TestGet_LocksRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM\s+inspections\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows(inspectionColumns).
			AddRow("i1", "tech-1", "boiler", "v1", "job-9", "", 4, "open", nil, now, now))

	got, err := repo.Get(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.LastAcknowledged)
	assert.Equal(t, models.InspectionOpen, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.Completed())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM\s+inspections`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`(?s)^UPDATE\s+inspections\s+SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Inspection{ID: "i1", Status: models.InspectionOpen})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+inspections\b`).
		WithArgs("i1", "tech-1", "boiler", "v1", "", "", int64(0), "open", nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Inspection{
		ID: "i1", TechnicianID: "tech-1", TemplateID: "boiler", VersionID: "v1",
		Status: models.InspectionOpen, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutResponses_IgnoresDuplicates(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	q := `(?s)^INSERT\s+INTO\s+responses\b.*ON\s+CONFLICT\s*\(inspection_id,\s*sequence\)\s*DO\s+NOTHING`
	mock.ExpectExec(q).
		WithArgs("i1", int64(1), "r1", []byte(`{"kind":"pass_fail","value":"pass"}`), "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("i1", int64(2), "r2", []byte(`{"kind":"number","value":3.5}`), "gauge 2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.PutResponses(context.Background(), []models.Response{
		{InspectionID: "i1", Sequence: 1, RowID: "r1", Value: forms.PassFail(true), UpdatedAt: now},
		{InspectionID: "i1", Sequence: 2, RowID: "r2", Value: forms.Number(3.5), Notes: "gauge 2", UpdatedAt: now},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResponses(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM\s+responses\s+WHERE\s+inspection_id\s*=\s*\$1\s+ORDER\s+BY\s+sequence`).
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows([]string{"inspection_id", "sequence", "row_id", "value", "notes", "updated_at"}).
			AddRow("i1", 1, "r1", []byte(`{"kind":"choice","value":"ok"}`), "", now))

	got, err := repo.ListResponses(context.Background(), "i1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, forms.Choice("ok"), got[0].Value)
}
