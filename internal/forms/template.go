package forms

import (
	"sort"
	"time"
)

// FieldType is the answer contract of a row.
type FieldType string

const (
	FieldPassFail FieldType = "pass_fail"
	FieldNumber   FieldType = "number"
	FieldText     FieldType = "text"
	FieldChoice   FieldType = "choice"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldPassFail, FieldNumber, FieldText, FieldChoice:
		return true
	}
	return false
}

type VersionStatus string

const (
	StatusDraft     VersionStatus = "draft"
	StatusPublished VersionStatus = "published"
)

// Template is a named, reusable inspection definition.
type Template struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Versions []Version `json:"versions"`
}

// LatestPublished returns the published version with the highest number.
func (t *Template) LatestPublished() (*Version, bool) {
	var latest *Version
	for i := range t.Versions {
		v := &t.Versions[i]
		if !v.IsPublished() {
			continue
		}
		if latest == nil || v.Number > latest.Number {
			latest = v
		}
	}
	return latest, latest != nil
}

// Version is a snapshot of a template's structure.
type Version struct {
	ID          string        `json:"id"`
	TemplateID  string        `json:"templateId"`
	Number      int           `json:"number"`
	Status      VersionStatus `json:"status"`
	PublishedAt *time.Time    `json:"publishedAt,omitempty"`
	Entities    []Entity      `json:"entities"`
}

func (v *Version) IsPublished() bool {
	return v.Status == StatusPublished
}

// Row looks a row up by id across all entities.
func (v *Version) Row(id string) (*Row, bool) {
	for i := range v.Entities {
		for j := range v.Entities[i].Rows {
			if v.Entities[i].Rows[j].ID == id {
				return &v.Entities[i].Rows[j], true
			}
		}
	}
	return nil, false
}

// SortedEntities returns the entities ordered by SortOrder (stable).
func (v *Version) SortedEntities() []Entity {
	out := make([]Entity, len(v.Entities))
	copy(out, v.Entities)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Rows returns every row in entity sort order, then declaration order.
func (v *Version) Rows() []Row {
	var rows []Row
	for _, e := range v.SortedEntities() {
		rows = append(rows, e.Rows...)
	}
	return rows
}

// IsRequired reports whether the row belongs to an entity marked required.
func (v *Version) IsRequired(rowID string) bool {
	for _, e := range v.Entities {
		if !e.Required {
			continue
		}
		for _, r := range e.Rows {
			if r.ID == rowID {
				return true
			}
		}
	}
	return false
}

// Entity groups rows, e.g. one inspected asset or one checklist section.
type Entity struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	SortOrder      int    `json:"sortOrder" yaml:"sort_order"`
	RepeatPerAsset bool   `json:"repeatPerAsset" yaml:"repeat_per_asset"`
	Required       bool   `json:"required" yaml:"required"`
	Rows           []Row  `json:"rows" yaml:"rows"`
}

// Row is a single question.
type Row struct {
	ID               string    `json:"id" yaml:"id"`
	Component        string    `json:"component" yaml:"component"`
	Activity         string    `json:"activity" yaml:"activity"`
	FieldType        FieldType `json:"fieldType" yaml:"field_type"`
	Unit             string    `json:"unit,omitempty" yaml:"unit"`
	Choices          []string  `json:"choices,omitempty" yaml:"choices"`
	EvidenceRequired bool      `json:"evidenceRequired" yaml:"evidence_required"`
}

// Label is the human-readable question text.
func (r Row) Label() string {
	switch {
	case r.Component == "":
		return r.Activity
	case r.Activity == "":
		return r.Component
	default:
		return r.Component + ": " + r.Activity
	}
}
