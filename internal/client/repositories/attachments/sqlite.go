package attachments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/api"
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

const columns = `id, inspection_id, row_id, content_hash, mime_type, filename, size, local_path, created_at, ref`

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.Attachment) error {
	ref, err := encodeRef(a.Ref)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO attachments (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.InspectionID, a.RowID, a.ContentHash, a.MimeType, a.Filename, a.Size, a.LocalPath,
		dbx.Time(a.CreatedAt), ref)
	if err != nil {
		return fmt.Errorf("failed to insert attachment %s: %w", a.ID, err)
	}
	return nil
}

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	var (
		a       models.Attachment
		created int64
		ref     sql.NullString
	)
	err := row.Scan(&a.ID, &a.InspectionID, &a.RowID, &a.ContentHash, &a.MimeType, &a.Filename,
		&a.Size, &a.LocalPath, &created, &ref)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = dbx.ParseTime(created)
	if ref.Valid {
		a.Ref = &api.AttachmentRef{}
		if err := json.Unmarshal([]byte(ref.String), a.Ref); err != nil {
			return nil, fmt.Errorf("%w: attachment %s ref: %v", common.ErrCorruptState, a.ID, err)
		}
	}
	return &a, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM attachments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListByInspection(ctx context.Context, inspectionID string) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM attachments WHERE inspection_id = ? ORDER BY created_at, id`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments of %s: %w", inspectionID, err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) CountByRow(ctx context.Context, inspectionID, rowID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE inspection_id = ? AND row_id = ?`, inspectionID, rowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attachments of %s/%s: %w", inspectionID, rowID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountByHash(ctx context.Context, contentHash string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE content_hash = ?`, contentHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attachments with hash %s: %w", contentHash, err)
	}
	return n, nil
}

func (r *SQLiteRepository) SetRef(ctx context.Context, id string, ref *api.AttachmentRef) error {
	encoded, err := encodeRef(ref)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET ref = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("failed to set ref of attachment %s: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("attachment %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeletePending(ctx context.Context, inspectionID string) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM attachments WHERE inspection_id = ? AND ref IS NULL RETURNING `+columns, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete pending attachments of %s: %w", inspectionID, err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) DeleteByInspection(ctx context.Context, inspectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE inspection_id = ?`, inspectionID); err != nil {
		return fmt.Errorf("failed to delete attachments of %s: %w", inspectionID, err)
	}
	return nil
}

func encodeRef(ref *api.AttachmentRef) (sql.NullString, error) {
	if ref == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode attachment ref: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
