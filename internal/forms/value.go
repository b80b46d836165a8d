package forms

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	passLiteral = "pass"
	failLiteral = "fail"
)

// Value is a typed answer. Kind selects which of the other fields is
// meaningful: Pass for pass_fail, Number for number, Text for text and choice.
type Value struct {
	Kind   FieldType
	Pass   bool
	Number float64
	Text   string
}

func PassFail(pass bool) Value { return Value{Kind: FieldPassFail, Pass: pass} }
func Number(n float64) Value   { return Value{Kind: FieldNumber, Number: n} }
func Text(s string) Value      { return Value{Kind: FieldText, Text: s} }
func Choice(s string) Value    { return Value{Kind: FieldChoice, Text: s} }

// IsZero reports whether v carries no answer at all.
func (v Value) IsZero() bool { return v.Kind == "" }

// IsBlank reports whether v counts as unanswered for required-row checks.
func (v Value) IsBlank() bool {
	switch v.Kind {
	case "":
		return true
	case FieldText, FieldChoice:
		return v.Text == ""
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case FieldPassFail:
		if v.Pass {
			return passLiteral
		}
		return failLiteral
	case FieldNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case FieldText, FieldChoice:
		return v.Text
	}
	return ""
}

type valueJSON struct {
	Kind  FieldType       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.Kind {
	case FieldPassFail:
		raw = v.String()
	case FieldNumber:
		raw = v.Number
	case FieldText, FieldChoice:
		raw = v.Text
	case "":
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.Kind, Value: b})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var in valueJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case FieldPassFail:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		switch s {
		case passLiteral:
			*v = PassFail(true)
		case failLiteral:
			*v = PassFail(false)
		default:
			return fmt.Errorf("pass_fail value %q: %w", s, errInvalidLiteral)
		}
	case FieldNumber:
		var n float64
		if err := json.Unmarshal(in.Value, &n); err != nil {
			return err
		}
		*v = Number(n)
	case FieldText, FieldChoice:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		*v = Value{Kind: in.Kind, Text: s}
	default:
		return fmt.Errorf("unknown value kind %q", in.Kind)
	}
	return nil
}
