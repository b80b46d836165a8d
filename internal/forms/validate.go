package forms

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

var errInvalidLiteral = errors.New("must be pass or fail")

// ValidationError names the row and the offending input.
type ValidationError struct {
	RowID     string
	FieldType FieldType
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %s (%s): value %q %s", e.RowID, e.FieldType, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return common.ErrInvalidValue }

func invalid(row Row, value, reason string) *ValidationError {
	return &ValidationError{RowID: row.ID, FieldType: row.FieldType, Value: value, Reason: reason}
}

// ParseValue translates raw technician input into the typed value for row.
func ParseValue(row Row, raw string) (Value, error) {
	switch row.FieldType {
	case FieldPassFail:
		switch strings.TrimSpace(raw) {
		case passLiteral:
			return PassFail(true), nil
		case failLiteral:
			return PassFail(false), nil
		}
		return Value{}, invalid(row, raw, errInvalidLiteral.Error())
	case FieldNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, invalid(row, raw, "is not a number")
		}
		v := Number(n)
		return v, Validate(row, v)
	case FieldText:
		return Text(raw), nil
	case FieldChoice:
		v := Choice(raw)
		return v, Validate(row, v)
	}
	return Value{}, invalid(row, raw, "has unknown field type")
}

// Validate checks an already typed value against the row's contract.
// Empty text is accepted here; required-ness is an entity-level concern
// checked when the inspection is completed.
func Validate(row Row, v Value) error {
	if v.Kind != row.FieldType {
		return invalid(row, v.String(), fmt.Sprintf("has kind %q, expected %q", v.Kind, row.FieldType))
	}
	switch v.Kind {
	case FieldNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return invalid(row, v.String(), "is not a finite number")
		}
	case FieldChoice:
		if !slices.Contains(row.Choices, v.Text) {
			return invalid(row, v.Text, fmt.Sprintf("is not one of %v", row.Choices))
		}
	}
	return nil
}
