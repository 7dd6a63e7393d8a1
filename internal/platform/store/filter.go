package store

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Op is a filter operator.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpLike
)

// Filter is one predicate over a column. Values are normalised to the
// column's storage type; OpIn carries a []any, OpLike a SQL LIKE pattern.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order is a single-column sort. An empty Column sorts by id alone.
type Order struct {
	Column string
	Desc   bool
}

// BuildFilters turns a loose filter map into predicates:
//
//	slice value            -> column IN (...)
//	string with % or *     -> case-insensitive pattern, * read as %
//	other scalar           -> equality
//
// nil values, empty strings, empty slices and unknown columns are omitted.
// The result is sorted by column so equal maps yield equal SQL.
func BuildFilters(t Table, in map[string]any) ([]Filter, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Filter
	for _, k := range keys {
		v := in[k]
		if isEmpty(v) {
			continue
		}
		col, ok := Lookup(t, k)
		if !ok {
			continue
		}

		if list, ok := asList(v); ok {
			vals := make([]any, 0, len(list))
			for _, e := range list {
				if isEmpty(e) {
					continue
				}
				nv, err := Normalize(col, e)
				if err != nil {
					return nil, &Error{Kind: KindValidation, Op: "filter", Table: t, Err: err}
				}
				vals = append(vals, nv)
			}
			if len(vals) == 0 {
				continue
			}
			out = append(out, Filter{Column: k, Op: OpIn, Value: vals})
			continue
		}

		if s, ok := v.(string); ok && strings.ContainsAny(s, "%*") {
			out = append(out, Filter{Column: k, Op: OpLike, Value: strings.ReplaceAll(s, "*", "%")})
			continue
		}

		nv, err := Normalize(col, v)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: "filter", Table: t, Err: err}
		}
		out = append(out, Filter{Column: k, Op: OpEq, Value: nv})
	}
	return out, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if list, ok := asList(v); ok {
		return len(list) == 0
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Match reports whether row satisfies every filter.
func Match(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(row[f.Column], f) {
			return false
		}
	}
	return true
}

func matchOne(v any, f Filter) bool {
	switch f.Op {
	case OpIn:
		for _, want := range f.Value.([]any) {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpLike:
		if v == nil {
			return false
		}
		return likeRegexp(f.Value.(string)).MatchString(fmt.Sprint(v))
	default:
		return equal(v, f.Value)
	}
}

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// compare orders two column values; nil sorts after everything.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// SortRows orders rows by o, breaking ties on id ascending. Nil values sort
// last in either direction, matching the NULLS LAST clause the SQL backend emits.
func SortRows(rows []Row, o Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		if o.Column != "" && o.Column != "id" {
			a, b := rows[i][o.Column], rows[j][o.Column]
			if c := compare(a, b); c != 0 {
				if a == nil || b == nil {
					return c < 0
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		c := compare(rows[i]["id"], rows[j]["id"])
		if o.Column == "id" && o.Desc {
			return c > 0
		}
		return c < 0
	})
}

// Paginate slices rows to [offset, offset+limit). limit <= 0 means no limit.
func Paginate(rows []Row, limit, offset int) []Row {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []Row{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}

// Project keeps only cols of row; no cols keeps the whole row.
func Project(row Row, cols []string) Row {
	if len(cols) == 0 {
		return row
	}
	out := make(Row, len(cols))
	for _, c := range cols {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}
