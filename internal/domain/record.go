package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is the inferred type of a merchant-defined catalog field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

var boolLiterals = map[string]bool{
	"true": true, "yes": true, "نعم": true,
	"false": false, "no": false, "لا": false,
}

// Field is one column of a merchant's catalog schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Position int       `json:"position"`
}

// Value is a typed catalog cell. Text always keeps the raw input.
type Value struct {
	Type   FieldType `json:"type"`
	Text   string    `json:"text"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	Date   time.Time `json:"date,omitempty"`
}

// IsEmpty reports whether the cell holds nothing.
func (v Value) IsEmpty() bool {
	return strings.TrimSpace(v.Text) == ""
}

// String renders the value for display.
func (v Value) String() string {
	switch v.Type {
	case FieldNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case FieldDate:
		return v.Date.Format("2006-01-02")
	default:
		return strings.TrimSpace(v.Text)
	}
}

// FieldValue pairs a field name with its value.
type FieldValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// DynamicRecord is one row of a merchant's schema-light catalog.
type DynamicRecord struct {
	ID       string       `json:"id"`
	Values   []FieldValue `json:"values"`
	Position int          `json:"position"`
}

// Get returns the value of a field, matching names case-insensitively.
func (r DynamicRecord) Get(name string) (Value, bool) {
	name = strings.TrimSpace(name)
	for _, fv := range r.Values {
		if strings.EqualFold(strings.TrimSpace(fv.Name), name) {
			return fv.Value, true
		}
	}
	return Value{}, false
}

// NonEmpty returns the fields that hold a value, in schema order.
func (r DynamicRecord) NonEmpty() []FieldValue {
	out := make([]FieldValue, 0, len(r.Values))
	for _, fv := range r.Values {
		if !fv.Value.IsEmpty() {
			out = append(out, fv)
		}
	}
	return out
}

// Catalog is a merchant's schema together with its records.
type Catalog struct {
	Fields  []Field         `json:"fields"`
	Records []DynamicRecord `json:"records"`
}

// Empty reports whether the catalog has no records.
func (c Catalog) Empty() bool {
	return len(c.Records) == 0
}

// InferFieldType infers a type from the first non-empty sample.
func InferFieldType(samples []string) FieldType {
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := parseNumber(s); ok {
			return FieldNumber
		}
		if _, ok := boolLiterals[strings.ToLower(s)]; ok {
			return FieldBoolean
		}
		if _, ok := parseDate(s); ok {
			return FieldDate
		}
		return FieldText
	}
	return FieldText
}

// ParseValue converts raw text into a Value of the given type. A sample
// that does not parse as the declared type degrades to text.
func ParseValue(t FieldType, raw string) Value {
	v := Value{Type: FieldText, Text: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		v.Type = t
		return v
	}
	switch t {
	case FieldNumber:
		if n, ok := parseNumber(s); ok {
			v.Type, v.Number = FieldNumber, n
		}
	case FieldBoolean:
		if b, ok := boolLiterals[strings.ToLower(s)]; ok {
			v.Type, v.Bool = FieldBoolean, b
		}
	case FieldDate:
		if d, ok := parseDate(s); ok {
			v.Type, v.Date = FieldDate, d
		}
	}
	return v
}

// InferSchema fills in missing field types from the raw rows and adds
// fields that only appear in rows, sorted by name after the declared ones.
func InferSchema(declared []Field, rows []map[string]string) []Field {
	seen := make(map[string]bool, len(declared))
	fields := make([]Field, 0, len(declared))
	for _, f := range declared {
		seen[f.Name] = true
		fields = append(fields, f)
	}

	var extra []string
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		fields = append(fields, Field{Name: name, Position: len(fields)})
	}

	for i := range fields {
		if fields[i].Type != "" {
			continue
		}
		samples := make([]string, 0, len(rows))
		for _, row := range rows {
			samples = append(samples, row[fields[i].Name])
		}
		fields[i].Type = InferFieldType(samples)
	}
	return fields
}

// BuildRecord types a raw row against the schema.
func BuildRecord(id string, position int, fields []Field, row map[string]string) DynamicRecord {
	rec := DynamicRecord{ID: id, Position: position, Values: make([]FieldValue, 0, len(fields))}
	for _, f := range fields {
		raw, ok := row[f.Name]
		if !ok {
			continue
		}
		rec.Values = append(rec.Values, FieldValue{Name: f.Name, Value: ParseValue(f.Type, raw)})
	}
	return rec
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.ContainsAny(s, "infINFaA") {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
