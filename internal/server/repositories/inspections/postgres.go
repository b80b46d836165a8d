package inspections

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Inspection, error) {
	query := `
		SELECT id, technician_id, template_id, version_id, job_id, site_id,
			last_acknowledged, status, completed_at, created_at, updated_at
		FROM inspections WHERE id = $1 FOR UPDATE;
	`
	var (
		i           models.Inspection
		status      string
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&i.ID, &i.TechnicianID, &i.TemplateID, &i.VersionID,
		&i.JobID, &i.SiteID, &i.LastAcknowledged, &status, &completedAt, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection %s: %w", id, err)
	}
	i.Status = models.InspectionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		i.CompletedAt = &t
	}
	return &i, nil
}

func (r *PostgresRepository) Create(ctx context.Context, i *models.Inspection) error {
	query := `
		INSERT INTO inspections (id, technician_id, template_id, version_id, job_id, site_id,
			last_acknowledged, status, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err := r.db.ExecContext(ctx, query, i.ID, i.TechnicianID, i.TemplateID, i.VersionID, i.JobID, i.SiteID,
		i.LastAcknowledged, string(i.Status), nullTime(i.CompletedAt), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create inspection %s: %w", i.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, i *models.Inspection) error {
	query := `
		UPDATE inspections SET last_acknowledged = $2, status = $3, completed_at = $4, updated_at = $5
		WHERE id = $1;
	`
	res, err := r.db.ExecContext(ctx, query, i.ID, i.LastAcknowledged, string(i.Status), nullTime(i.CompletedAt), i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update inspection %s: %w", i.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) PutResponses(ctx context.Context, rs []models.Response) error {
	query := `
		INSERT INTO responses (inspection_id, sequence, row_id, value, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (inspection_id, sequence) DO NOTHING;
	`
	for _, resp := range rs {
		value, err := json.Marshal(resp.Value)
		if err != nil {
			return fmt.Errorf("encode value of %s: %w", resp.RowID, err)
		}
		if _, err := r.db.ExecContext(ctx, query, resp.InspectionID, resp.Sequence, resp.RowID, value, resp.Notes, resp.UpdatedAt); err != nil {
			return fmt.Errorf("failed to store response %d of %s: %w", resp.Sequence, resp.InspectionID, err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListResponses(ctx context.Context, inspectionID string) ([]models.Response, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT inspection_id, sequence, row_id, value, notes, updated_at
		FROM responses WHERE inspection_id = $1 ORDER BY sequence;
	`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses of %s: %w", inspectionID, err)
	}
	defer rows.Close()

	var out []models.Response
	for rows.Next() {
		var (
			resp  models.Response
			value []byte
		)
		if err := rows.Scan(&resp.InspectionID, &resp.Sequence, &resp.RowID, &value, &resp.Notes, &resp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal(value, &resp.Value); err != nil {
			return nil, fmt.Errorf("decode value of %s: %w", resp.RowID, err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
