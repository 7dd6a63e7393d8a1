package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table names one of the fixed set of remote tables.
type Table string

const (
	Patients  Table = "patients"
	FollowUps Table = "follow_ups"
	Clinics   Table = "clinics"
	Profiles  Table = "profiles"
	Settings  Table = "settings"
)

// Tables lists every table in dependency order (referenced tables first).
var Tables = []Table{Clinics, Profiles, Patients, FollowUps, Settings}

// ParseTable validates a table name.
func ParseTable(name string) (Table, error) {
	t := Table(strings.TrimSpace(name))
	if _, ok := schemas[t]; !ok {
		return "", &Error{Kind: KindValidation, Op: "parse", Table: t, Err: fmt.Errorf("unknown table %q", name)}
	}
	return t, nil
}

func (t Table) String() string { return string(t) }

// ColumnType is the storage type used to normalise row values.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeDate
	TypeTextArray
)

// Column describes one column of a table.
type Column struct {
	Name    string
	Type    ColumnType
	Default func() any
}

func now() any { return time.Now().UTC() }

func constant(v any) func() any { return func() any { return v } }

var schemas = map[Table][]Column{
	Patients: {
		{Name: "id", Type: TypeText},
		{Name: "name", Type: TypeText},
		{Name: "age", Type: TypeInt},
		{Name: "gender", Type: TypeText},
		{Name: "phone", Type: TypeText},
		{Name: "email", Type: TypeText},
		{Name: "treatment_category", Type: TypeText},
		{Name: "treatment_type", Type: TypeText},
		{Name: "price", Type: TypeInt},
		{Name: "doctor_id", Type: TypeText},
		{Name: "clinic_id", Type: TypeText},
		{Name: "status", Type: TypeText, Default: constant("Pending")},
		{Name: "follow_up_required", Type: TypeBool, Default: constant(false)},
		{Name: "follow_up_time", Type: TypeText},
		{Name: "follow_up_channel", Type: TypeText},
		{Name: "notes", Type: TypeText},
		{Name: "script", Type: TypeText},
		{Name: "last_interaction", Type: TypeTime},
		{Name: "last_interaction_outcome", Type: TypeText},
		{Name: "cold_reason", Type: TypeText},
		{Name: "created_by", Type: TypeText},
		{Name: "last_modified_by", Type: TypeText},
		{Name: "created_at", Type: TypeTime, Default: now},
		{Name: "updated_at", Type: TypeTime, Default: now},
	},
	FollowUps: {
		{Name: "id", Type: TypeText},
		{Name: "patient_id", Type: TypeText},
		{Name: "type", Type: TypeText},
		{Name: "date", Type: TypeDate},
		{Name: "time", Type: TypeText},
		{Name: "notes", Type: TypeText},
		{Name: "response", Type: TypeText},
		{Name: "created_by", Type: TypeText},
		{Name: "created_at", Type: TypeTime, Default: now},
	},
	Clinics: {
		{Name: "id", Type: TypeText},
		{Name: "name", Type: TypeText},
		{Name: "address", Type: TypeText},
		{Name: "phone", Type: TypeText},
		{Name: "email", Type: TypeText},
		{Name: "created_at", Type: TypeTime, Default: now},
	},
	Profiles: {
		{Name: "id", Type: TypeText},
		{Name: "name", Type: TypeText},
		{Name: "email", Type: TypeText},
		{Name: "role", Type: TypeText, Default: constant("doctor")},
		{Name: "clinic_id", Type: TypeText},
		{Name: "created_at", Type: TypeTime, Default: now},
	},
	Settings: {
		{Name: "id", Type: TypeText},
		{Name: "clinic_id", Type: TypeText},
		{Name: "start_time", Type: TypeText, Default: constant("09:00")},
		{Name: "end_time", Type: TypeText, Default: constant("18:00")},
		{Name: "excluded_days", Type: TypeTextArray, Default: func() any { return []string{} }},
		{Name: "excluded_dates", Type: TypeTextArray, Default: func() any { return []string{} }},
		{Name: "contact_interval", Type: TypeInt, Default: constant(int64(60))},
		{Name: "updated_at", Type: TypeTime, Default: now},
	},
}

// Columns returns the schema of t in declaration order.
func Columns(t Table) []Column {
	return schemas[t]
}

// ColumnNames returns the column names of t in declaration order.
func ColumnNames(t Table) []string {
	cols := schemas[t]
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a column by name.
func Lookup(t Table, name string) (Column, bool) {
	for _, c := range schemas[t] {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether t declares name.
func HasColumn(t Table, name string) bool {
	_, ok := Lookup(t, name)
	return ok
}

// NormalizeRow converts every value of row to its column's storage type.
// Unknown columns and unconvertible values are validation errors.
func NormalizeRow(t Table, op string, row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := Lookup(t, k)
		if !ok {
			return nil, &Error{Kind: KindValidation, Op: op, Table: t, Err: fmt.Errorf("unknown column %q", k)}
		}
		nv, err := Normalize(col, v)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Table: t, Err: err}
		}
		out[k] = nv
	}
	return out, nil
}

// Coerce is the lenient form of NormalizeRow used on rows read back from a
// backend or cache: unknown keys and unconvertible values pass through as-is.
func Coerce(t Table, row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := Lookup(t, k)
		if !ok {
			out[k] = v
			continue
		}
		nv, err := Normalize(col, v)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = nv
	}
	return out
}

// Normalize converts v to the Go type used for col: string, int64, float64,
// bool, time.Time or []string. nil stays nil, and an empty string becomes
// nil for non-text columns.
func Normalize(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && col.Type != TypeText {
		return nil, nil
	}

	switch col.Type {
	case TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		case bool, int, int32, int64, float64, json.Number:
			return fmt.Sprint(x), nil
		}
	case TypeInt:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x != float64(int64(x)) {
				return nil, fmt.Errorf("column %s: %v is not an integer", col.Name, x)
			}
			return int64(x), nil
		case json.Number:
			return x.Int64()
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %q is not an integer", col.Name, x)
			}
			return n, nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case json.Number:
			return x.Float64()
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %q is not a number", col.Name, x)
			}
			return f, nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes", "y", "1":
				return true, nil
			case "false", "no", "n", "0":
				return false, nil
			}
			return nil, fmt.Errorf("column %s: %q is not a boolean", col.Name, x)
		}
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return parseTime(col.Name, x)
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return truncateDate(x), nil
		case string:
			t, err := parseTime(col.Name, x)
			if err != nil {
				return nil, err
			}
			return truncateDate(t), nil
		}
	case TypeTextArray:
		switch x := v.(type) {
		case []string:
			return x, nil
		case []any:
			out := make([]string, 0, len(x))
			for _, e := range x {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("column %s: array element %v is not a string", col.Name, e)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			parts := strings.Split(x, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("column %s: unsupported value %v (%T)", col.Name, v, v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("column %s: %q is not a timestamp", name, s)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
