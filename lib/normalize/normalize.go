package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mkprocessor/lib/extract"
)

// Type is the declared type of a destination column.
type Type string

const (
	TypeString Type = "string"
	TypeNumber Type = "number"
	TypeDate   Type = "date"
)

// Transform is a named value rewrite applied before type coercion.
type Transform string

const (
	TransformTrim         Transform = "trim"
	TransformParseNumber  Transform = "parse-number"
	TransformParseDate    Transform = "parse-date"
	TransformLowercaseKey Transform = "lowercase-key"
)

// Column declares one destination sheet column.
type Column struct {
	Name string `json:"name"`
	// Field is the raw record field feeding this column, defaults to
	// the column name.
	Field      string      `json:"field"`
	Type       Type        `json:"type"`
	Transforms []Transform `json:"transforms"`
	Required   bool        `json:"required"`
	// DateFormat is a Go reference layout for date columns, empty
	// tries a set of common layouts.
	DateFormat string `json:"date_format"`
}

func (c Column) sourceField() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Name
}

// Schema is the enumerated destination column list. The column order
// is the sheet's column order, that layout is the contract normalized
// records must match exactly.
type Schema struct {
	Columns []Column `json:"columns"`
}

func (s Schema) Header() []string {
	header := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = c.Name
	}
	return header
}

// Value is one typed cell. Absent marks an optional column whose source
// field never appeared on the page.
type Value struct {
	Kind   Type
	Absent bool
	Str    string
	Num    float64
	Date   time.Time
}

// Cell is the canonical string form written to the sheet. It is
// deterministic, the same Value always renders the same cell.
func (v Value) Cell() string {
	if v.Absent {
		return ""
	}
	switch v.Kind {
	case TypeNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case TypeDate:
		return v.Date.Format("2006-01-02")
	default:
		return v.Str
	}
}

// CanonicalRecord maps column names to typed values. Every schema
// column is present, absent optionals included.
type CanonicalRecord map[string]Value

// Cells renders the record in schema column order.
func (r CanonicalRecord) Cells(schema Schema) []string {
	cells := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cells[i] = r[c.Name].Cell()
	}
	return cells
}

// NormalizationError reports a value that could not be coerced to its
// column's declared type. It is local to one record and must not abort
// the batch.
type NormalizationError struct {
	Column   string
	RawValue string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize column %q from %q: %s", e.Column, e.RawValue, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Normalize converts one raw record into the canonical schema. Pure:
// the same record and schema always produce the same output.
func Normalize(raw extract.RawRecord, schema Schema) (CanonicalRecord, error) {
	out := make(CanonicalRecord, len(schema.Columns))

	for _, column := range schema.Columns {
		rawValue, present := raw.Fields[column.sourceField()]
		if !present || rawValue == nil {
			if column.Required {
				return nil, &NormalizationError{
					Column: column.Name,
					Err:    fmt.Errorf("required column has no extracted value"),
				}
			}
			out[column.Name] = Value{Kind: column.Type, Absent: true}
			continue
		}

		value, err := coerce(column, *rawValue)
		if err != nil {
			return nil, &NormalizationError{
				Column:   column.Name,
				RawValue: *rawValue,
				Err:      err,
			}
		}
		out[column.Name] = value
	}

	return out, nil
}

func coerce(column Column, raw string) (Value, error) {
	text := raw
	for _, transform := range column.Transforms {
		switch transform {
		case TransformTrim:
			text = strings.TrimSpace(text)
		case TransformParseNumber:
			text = cleanNumber(text)
		case TransformParseDate:
			// coercion below handles the parse, transform only trims
			text = strings.TrimSpace(text)
		case TransformLowercaseKey:
			text = strings.ToLower(strings.TrimSpace(text))
		default:
			return Value{}, fmt.Errorf("unknown transform %q", transform)
		}
	}

	switch column.Type {
	case TypeString, "":
		return Value{Kind: TypeString, Str: text}, nil
	case TypeNumber:
		num, err := strconv.ParseFloat(cleanNumber(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("not a number")
		}
		return Value{Kind: TypeNumber, Num: num}, nil
	case TypeDate:
		date, err := parseDate(text, column.DateFormat)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: TypeDate, Date: date}, nil
	default:
		return Value{}, fmt.Errorf("unknown column type %q", column.Type)
	}
}

// cleanNumber strips the decoration sites put around numeric values,
// currency markers, thousands separators, surrounding junk.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, c := range s {
		if (c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	time.RFC3339,
}

func parseDate(s string, layout string) (time.Time, error) {
	if layout != "" {
		date, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("not a date in layout %q", layout)
		}
		return date, nil
	}
	for _, l := range dateLayouts {
		if date, err := time.Parse(l, s); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a date")
}
