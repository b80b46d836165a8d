package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const refColumns = `id, inspection_id, row_id, content_hash, mime_type, size, url, stored_at`

func scanRef(row interface{ Scan(...any) error }) (*api.AttachmentRef, error) {
	var ref api.AttachmentRef
	if err := row.Scan(&ref.ID, &ref.InspectionID, &ref.RowID, &ref.ContentHash,
		&ref.MimeType, &ref.Size, &ref.URL, &ref.StoredAt); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *PostgresRepository) GetByKey(ctx context.Context, key string) (*api.AttachmentRef, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+refColumns+` FROM attachments WHERE idempotency_key = $1`, key)
	ref, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", key, err)
	}
	return ref, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, key string, ref *api.AttachmentRef) error {
	query := `
		INSERT INTO attachments (idempotency_key, ` + refColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING;
	`
	_, err := r.db.ExecContext(ctx, query, key, ref.ID, ref.InspectionID, ref.RowID, ref.ContentHash,
		ref.MimeType, ref.Size, ref.URL, ref.StoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert attachment %s: %w", key, err)
	}
	return nil
}

func (r *PostgresRepository) ListByInspection(ctx context.Context, inspectionID string) ([]api.AttachmentRef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refColumns+` FROM attachments WHERE inspection_id = $1 ORDER BY stored_at, id`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments of %s: %w", inspectionID, err)
	}
	defer rows.Close()

	var out []api.AttachmentRef
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return out, nil
}
