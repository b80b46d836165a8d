package forms

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is the authored structure of a version, before the server
// assigns ids and a version number.
type Definition struct {
	Name     string   `json:"name" yaml:"name"`
	Entities []Entity `json:"entities" yaml:"entities"`
}

// ParseDefinition decodes a YAML definition, fills in missing entity ids and
// sort orders, and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Normalize assigns "e-N" ids and declaration-order sort orders to entities
// that omit them.
func (d *Definition) Normalize() {
	for i := range d.Entities {
		e := &d.Entities[i]
		if e.ID == "" {
			e.ID = fmt.Sprintf("e-%d", i+1)
		}
		if e.SortOrder == 0 {
			e.SortOrder = i + 1
		}
	}
}

func (d *Definition) Validate() error {
	var errs []error
	seen := make(map[string]struct{})
	for _, e := range d.Entities {
		errs = append(errs, ValidateEntity(e, seen)...)
	}
	return errors.Join(errs...)
}

// ValidateEntity checks one entity; seen collects row ids across a version so
// duplicates are reported.
func ValidateEntity(e Entity, seen map[string]struct{}) []error {
	var errs []error
	if len(e.Rows) == 0 {
		errs = append(errs, fmt.Errorf("entity %s: no rows", e.ID))
	}
	for _, r := range e.Rows {
		switch {
		case r.ID == "":
			errs = append(errs, fmt.Errorf("entity %s: row without id", e.ID))
			continue
		case !r.FieldType.Valid():
			errs = append(errs, fmt.Errorf("row %s: unknown field type %q", r.ID, r.FieldType))
		case r.FieldType == FieldChoice && len(r.Choices) == 0:
			errs = append(errs, fmt.Errorf("row %s: choice row without choices", r.ID))
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("row %s: duplicate id", r.ID))
		}
		seen[r.ID] = struct{}{}
	}
	return errs
}
