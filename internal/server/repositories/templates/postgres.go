package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureTemplate(ctx context.Context, id, name string) error {
	query := `
		INSERT INTO templates (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			WHERE EXCLUDED.name <> '' AND templates.name <> EXCLUDED.name;
	`
	if _, err := r.db.ExecContext(ctx, query, id, name); err != nil {
		return fmt.Errorf("failed to ensure template %s: %w", id, err)
	}
	return nil
}

func scanVersion(row interface{ Scan(...any) error }) (*forms.Version, error) {
	var (
		v           forms.Version
		status      string
		publishedAt sql.NullTime
		entities    []byte
	)
	if err := row.Scan(&v.ID, &v.TemplateID, &v.Number, &status, &publishedAt, &entities); err != nil {
		return nil, err
	}
	v.Status = forms.VersionStatus(status)
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		v.PublishedAt = &t
	}
	if err := json.Unmarshal(entities, &v.Entities); err != nil {
		return nil, fmt.Errorf("decode entities of version %s: %w", v.ID, err)
	}
	return &v, nil
}

const versionColumns = `id, template_id, number, status, published_at, entities`

func (r *PostgresRepository) ListTemplates(ctx context.Context) ([]forms.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var out []forms.Template
	index := make(map[string]int)
	for rows.Next() {
		var t forms.Template
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	vrows, err := r.db.QueryContext(ctx, `SELECT `+versionColumns+` FROM template_versions ORDER BY template_id, number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		v, err := scanVersion(vrows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if i, ok := index[v.TemplateID]; ok {
			out[i].Versions = append(out[i].Versions, *v)
		}
	}
	if err := vrows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) NextVersionNumber(ctx context.Context, templateID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM template_versions WHERE template_id = $1`, templateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get next version number of %s: %w", templateID, err)
	}
	return n, nil
}

func (r *PostgresRepository) InsertVersion(ctx context.Context, v *forms.Version) error {
	entities, err := json.Marshal(v.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	query := `
		INSERT INTO template_versions (id, template_id, number, status, published_at, entities)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err = r.db.ExecContext(ctx, query, v.ID, v.TemplateID, v.Number, string(v.Status), nullTime(v), entities)
	if err != nil {
		return fmt.Errorf("failed to insert version %s: %w", v.ID, err)
	}
	return nil
}

func (r *PostgresRepository) GetVersion(ctx context.Context, versionID string) (*forms.Version, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM template_versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}
	return v, nil
}

func (r *PostgresRepository) UpdateVersion(ctx context.Context, v *forms.Version) error {
	entities, err := json.Marshal(v.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	query := `
		UPDATE template_versions SET status = $2, published_at = $3, entities = $4
		WHERE id = $1 AND status = 'draft';
	`
	res, err := r.db.ExecContext(ctx, query, v.ID, string(v.Status), nullTime(v), entities)
	if err != nil {
		return fmt.Errorf("failed to update version %s: %w", v.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", v.ID, common.ErrVersionImmutable)
	}
	return nil
}

func nullTime(v *forms.Version) sql.NullTime {
	if v.PublishedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v.PublishedAt, Valid: true}
}
