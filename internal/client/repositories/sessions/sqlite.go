package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var columns = []string{
	"inspection_id", "template_id", "version_id", "job_id", "site_id", "status",
	"answers", "last_sequence", "created_at", "updated_at", "completed_at", "synced_at",
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		s         models.Session
		status    string
		answers   []byte
		created   int64
		updated   int64
		completed sql.NullInt64
		synced    sql.NullInt64
	)
	err := row.Scan(&s.InspectionID, &s.TemplateID, &s.VersionID, &s.JobID, &s.SiteID, &status,
		&answers, &s.LastSequence, &created, &updated, &completed, &synced)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.CreatedAt = dbx.ParseTime(created)
	s.UpdatedAt = dbx.ParseTime(updated)
	s.CompletedAt = dbx.ParseNullTime(completed)
	s.SyncedAt = dbx.ParseNullTime(synced)

	if err := json.Unmarshal(answers, &s.Answers); err != nil {
		return nil, fmt.Errorf("%w: session %s answers: %v", common.ErrCorruptState, s.InspectionID, err)
	}
	if s.Answers == nil {
		s.Answers = make(map[string]models.Draft)
	}
	switch s.Status {
	case models.SessionOpen, models.SessionCompleting, models.SessionCompleted:
	default:
		return nil, fmt.Errorf("%w: session %s has status %q", common.ErrCorruptState, s.InspectionID, status)
	}
	return &s, nil
}

func (r *SQLiteRepository) Load(ctx context.Context, inspectionID string) (*models.Session, error) {
	query, args, err := squirrel.Select(columns...).From("sessions").
		Where(squirrel.Eq{"inspection_id": inspectionID}).ToSql()
	if err != nil {
		return nil, err
	}
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", inspectionID, err)
	}
	return s, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.Session) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("encode answers of %s: %w", s.InspectionID, err)
	}
	query, args, err := squirrel.Insert("sessions").Columns(columns...).
		Values(s.InspectionID, s.TemplateID, s.VersionID, s.JobID, s.SiteID, string(s.Status),
			answers, s.LastSequence, dbx.Time(s.CreatedAt), dbx.Time(s.UpdatedAt),
			dbx.NullTime(s.CompletedAt), dbx.NullTime(s.SyncedAt)).
		Suffix(`ON CONFLICT(inspection_id) DO UPDATE SET
			status = excluded.status,
			answers = excluded.answers,
			last_sequence = excluded.last_sequence,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			synced_at = excluded.synced_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.InspectionID, err)
	}
	return nil
}

// List returns sessions in creation order, optionally restricted to statuses.
func (r *SQLiteRepository) List(ctx context.Context, statuses ...models.SessionStatus) ([]*models.Session, error) {
	b := squirrel.Select(columns...).From("sessions").OrderBy("created_at", "inspection_id")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		b = b.Where(squirrel.Eq{"status": values})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, inspectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE inspection_id = ?`, inspectionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", inspectionID, err)
	}
	return nil
}
