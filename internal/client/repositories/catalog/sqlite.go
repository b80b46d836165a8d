package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertTemplate(ctx context.Context, id, name string, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, fetched_at = excluded.fetched_at
	`, id, name, dbx.Time(fetchedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) PutVersion(ctx context.Context, v *forms.Version) (PutResult, error) {
	entities, err := json.Marshal(v.Entities)
	if err != nil {
		return 0, fmt.Errorf("encode entities of %s: %w", v.ID, err)
	}

	var (
		status  string
		current []byte
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT status, entities FROM template_versions WHERE id = ?`, v.ID).Scan(&status, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO template_versions (id, template_id, number, status, published_at, entities)
			VALUES (?, ?, ?, ?, ?, ?)
		`, v.ID, v.TemplateID, v.Number, string(v.Status), dbx.NullTime(v.PublishedAt), entities)
		if err != nil {
			return 0, fmt.Errorf("failed to insert version %s: %w", v.ID, err)
		}
		return PutInserted, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read version %s: %w", v.ID, err)
	}

	if forms.VersionStatus(status) == forms.StatusPublished {
		if bytes.Equal(current, entities) {
			return PutUnchanged, nil
		}
		return PutConflict, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE template_versions SET number = ?, status = ?, published_at = ?, entities = ?
		WHERE id = ?
	`, v.Number, string(v.Status), dbx.NullTime(v.PublishedAt), entities, v.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update version %s: %w", v.ID, err)
	}
	return PutUpdated, nil
}

const versionColumns = `id, template_id, number, status, published_at, entities`

func scanVersion(row interface{ Scan(...any) error }) (*forms.Version, error) {
	var (
		v         forms.Version
		status    string
		published sql.NullInt64
		entities  []byte
	)
	if err := row.Scan(&v.ID, &v.TemplateID, &v.Number, &status, &published, &entities); err != nil {
		return nil, err
	}
	v.Status = forms.VersionStatus(status)
	v.PublishedAt = dbx.ParseNullTime(published)
	if err := json.Unmarshal(entities, &v.Entities); err != nil {
		return nil, fmt.Errorf("%w: version %s entities: %v", common.ErrCorruptState, v.ID, err)
	}
	return &v, nil
}

func (r *SQLiteRepository) GetVersion(ctx context.Context, versionID string) (*forms.Version, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM template_versions WHERE id = ?`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", versionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", versionID, err)
	}
	return v, nil
}

func (r *SQLiteRepository) LatestPublished(ctx context.Context, templateID string) (*forms.Version, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM template_versions
		WHERE template_id = ? AND status = ? ORDER BY number DESC LIMIT 1`,
		templateID, string(forms.StatusPublished))
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("published version of %s: %w", templateID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version of %s: %w", templateID, err)
	}
	return v, nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]forms.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM templates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	var (
		result []forms.Template
		index  = make(map[string]int)
	)
	for rows.Next() {
		var t forms.Template
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(result)
		result = append(result, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := r.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM template_versions ORDER BY template_id, number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		v, err := scanVersion(vrows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[v.TemplateID]; ok {
			result[i].Versions = append(result[i].Versions, *v)
		}
	}
	return result, vrows.Err()
}
