package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

var columns = []string{
	"id", "inspection_id", "kind", "row_id", "attachment_id", "seq_start", "seq_end",
	"idempotency_key", "payload", "status", "retry_count", "next_attempt_at", "last_error",
	"created_at", "updated_at",
}

func (r *SQLiteRepository) ReserveSequences(ctx context.Context, inspectionID string, n int64) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("reserve %d sequences: count must be positive", n)
	}
	var last int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO queue_sequences (inspection_id, last_sequence) VALUES (?, ?)
		ON CONFLICT(inspection_id) DO UPDATE SET last_sequence = last_sequence + excluded.last_sequence
		RETURNING last_sequence
	`, inspectionID, n).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve sequences for %s: %w", inspectionID, err)
	}
	return last - n + 1, nil
}

func (r *SQLiteRepository) LastSequence(ctx context.Context, inspectionID string) (int64, error) {
	var last int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM queue_sequences WHERE inspection_id = ?`, inspectionID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence of %s: %w", inspectionID, err)
	}
	return last, nil
}

func (r *SQLiteRepository) RewindSequences(ctx context.Context, inspectionID string, last int64) error {
	if last < 0 {
		return fmt.Errorf("rewind %s to %d: sequence must not be negative", inspectionID, last)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE queue_sequences SET last_sequence = ? WHERE inspection_id = ? AND last_sequence > ?`,
		last, inspectionID, last)
	if err != nil {
		return fmt.Errorf("failed to rewind sequence of %s: %w", inspectionID, err)
	}
	return nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.QueueEntry) error {
	now := r.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	query, args, err := squirrel.Insert("queue_entries").Columns(columns[1:]...).
		Values(e.InspectionID, string(e.Kind), e.RowID, e.AttachmentID, e.SeqStart, e.SeqEnd,
			e.IdempotencyKey, e.Payload, string(e.Status), e.RetryCount, dbx.NullTime(e.NextAttemptAt),
			e.LastError, dbx.Time(e.CreatedAt), dbx.Time(e.UpdatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry %s: %w", e.IdempotencyKey, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get queue entry id: %w", err)
	}
	e.ID = id
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*models.QueueEntry, error) {
	var (
		e       models.QueueEntry
		kind    string
		status  string
		next    sql.NullInt64
		created int64
		updated int64
	)
	err := row.Scan(&e.ID, &e.InspectionID, &kind, &e.RowID, &e.AttachmentID, &e.SeqStart, &e.SeqEnd,
		&e.IdempotencyKey, &e.Payload, &status, &e.RetryCount, &next, &e.LastError, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.Kind = models.EntryKind(kind)
	e.Status = models.EntryStatus(status)
	e.NextAttemptAt = dbx.ParseNullTime(next)
	e.CreatedAt = dbx.ParseTime(created)
	e.UpdatedAt = dbx.ParseTime(updated)
	return &e, nil
}

func (r *SQLiteRepository) getBy(ctx context.Context, where squirrel.Sqlizer, what string) (*models.QueueEntry, error) {
	query, args, err := squirrel.Select(columns...).From("queue_entries").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue entry %s: %w", what, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %s: %w", what, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	return r.getBy(ctx, squirrel.Eq{"id": id}, fmt.Sprint(id))
}

func (r *SQLiteRepository) GetByKey(ctx context.Context, key string) (*models.QueueEntry, error) {
	return r.getBy(ctx, squirrel.Eq{"idempotency_key": key}, key)
}

func applyFilter[B interface {
	Where(pred any, args ...any) B
}](b B, f Filter) B {
	if f.InspectionID != "" {
		b = b.Where(squirrel.Eq{"inspection_id": f.InspectionID})
	}
	if f.RowID != "" {
		b = b.Where(squirrel.Eq{"row_id": f.RowID})
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		b = b.Where(squirrel.Eq{"kind": kinds})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		b = b.Where(squirrel.Eq{"status": statuses})
	}
	if f.DueBefore != nil {
		b = b.Where(squirrel.Or{
			squirrel.Eq{"next_attempt_at": nil},
			squirrel.LtOrEq{"next_attempt_at": dbx.Time(*f.DueBefore)},
		})
	}
	return b
}

// List returns entries ordered by kind, sequence and insertion order.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]*models.QueueEntry, error) {
	b := applyFilter(squirrel.Select(columns...).From("queue_entries"), f).
		OrderBy("inspection_id", "seq_start", "id")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var result []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := applyFilter(squirrel.Select("COUNT(*)").From("queue_entries"), f).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Inspections(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT inspection_id FROM queue_entries ORDER BY inspection_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued inspections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) UpdateState(ctx context.Context, e *models.QueueEntry) error {
	e.UpdatedAt = r.now()
	query, args, err := squirrel.Update("queue_entries").
		Set("status", string(e.Status)).
		Set("retry_count", e.RetryCount).
		Set("next_attempt_at", dbx.NullTime(e.NextAttemptAt)).
		Set("last_error", e.LastError).
		Set("updated_at", dbx.Time(e.UpdatedAt)).
		Where(squirrel.Eq{"id": e.ID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", e.ID, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("queue entry %d: %w", e.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteResponsesUpTo(ctx context.Context, inspectionID string, upTo int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE inspection_id = ? AND kind = ? AND seq_end <= ?`,
		inspectionID, string(models.KindResponses), upTo)
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge responses of %s up to %d: %w", inspectionID, upTo, err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteByInspection(ctx context.Context, inspectionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE inspection_id = ?`, inspectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue entries of %s: %w", inspectionID, err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_entries SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.StatusPending), dbx.Time(r.now()), string(models.StatusInFlight))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight entries: %w", err)
	}
	return res.RowsAffected()
}
