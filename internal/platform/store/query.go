package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

func quote(col string) string {
	return pgx.Identifier{col}.Sanitize()
}

func quoteAll(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = quote(c)
	}
	return strings.Join(q, ", ")
}

// selectQuery accumulates a WHERE clause and its positional arguments.
type selectQuery struct {
	table   Table
	cols    string
	where   string
	args    []any
	idx     int
	orderBy string
}

func newSelectQuery(t Table, cols []string) *selectQuery {
	if len(cols) == 0 {
		cols = ColumnNames(t)
	}
	return &selectQuery{
		table:   t,
		cols:    quoteAll(cols),
		idx:     1,
		orderBy: quote("id") + " ASC",
	}
}

// add appends a clause containing a single %d placeholder for the next arg index.
func (q *selectQuery) add(clause string, arg any) {
	q.where += " AND " + fmt.Sprintf(clause, q.idx)
	q.args = append(q.args, arg)
	q.idx++
}

func (q *selectQuery) applyFilters(filters []Filter) {
	for _, f := range filters {
		col, _ := Lookup(q.table, f.Column)
		name := quote(f.Column)
		switch f.Op {
		case OpIn:
			q.add(name+" = ANY($%d)", typedList(col, f.Value.([]any)))
		case OpLike:
			if col.Type != TypeText {
				name += "::text"
			}
			q.add(name+" ILIKE $%d", f.Value)
		default:
			q.add(name+" = $%d", f.Value)
		}
	}
}

// typedList converts normalised values into a slice pgx can encode as an array.
func typedList(col Column, vals []any) any {
	switch col.Type {
	case TypeInt:
		out := make([]int64, 0, len(vals))
		for _, v := range vals {
			if n, ok := v.(int64); ok {
				out = append(out, n)
			}
		}
		return out
	case TypeFloat:
		out := make([]float64, 0, len(vals))
		for _, v := range vals {
			if n, ok := v.(float64); ok {
				out = append(out, n)
			}
		}
		return out
	case TypeBool:
		out := make([]bool, 0, len(vals))
		for _, v := range vals {
			if b, ok := v.(bool); ok {
				out = append(out, b)
			}
		}
		return out
	case TypeTime, TypeDate:
		out := make([]time.Time, 0, len(vals))
		for _, v := range vals {
			if t, ok := v.(time.Time); ok {
				out = append(out, t)
			}
		}
		return out
	default:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
}

func (q *selectQuery) applyOrder(o Order) {
	if o.Column == "" || o.Column == "id" {
		if o.Desc {
			q.orderBy = quote("id") + " DESC"
		}
		return
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	q.orderBy = fmt.Sprintf("%s %s NULLS LAST, %s ASC", quote(o.Column), dir, quote("id"))
}

func (q *selectQuery) countSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", quote(string(q.table)), q.where)
}

func (q *selectQuery) dataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s ORDER BY %s",
		q.cols, quote(string(q.table)), q.where, q.orderBy)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	} else if offset > 0 {
		sql += fmt.Sprintf(" OFFSET $%d", q.idx)
	}
	return sql
}

func (q *selectQuery) dataArgs(limit, offset int) []any {
	args := append([]any{}, q.args...)
	if limit > 0 {
		return append(args, limit, offset)
	}
	if offset > 0 {
		return append(args, offset)
	}
	return args
}

// insertSQL builds a multi-row INSERT. Columns are the union of row keys in
// schema order; a row missing a column gets DEFAULT.
func insertSQL(t Table, rows []Row) (string, []any) {
	var cols []string
	for _, c := range ColumnNames(t) {
		for _, r := range rows {
			if _, ok := r[c]; ok {
				cols = append(cols, c)
				break
			}
		}
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s",
			quote(string(t)), quoteAll(ColumnNames(t))), nil
	}

	var args []any
	tuples := make([]string, len(rows))
	for i, r := range rows {
		vals := make([]string, len(cols))
		for j, c := range cols {
			v, ok := r[c]
			if !ok {
				vals[j] = "DEFAULT"
				continue
			}
			args = append(args, v)
			vals[j] = fmt.Sprintf("$%d", len(args))
		}
		tuples[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING %s",
		quote(string(t)), quoteAll(cols), strings.Join(tuples, ", "), quoteAll(ColumnNames(t)))
	return sql, args
}

// updateSQL builds UPDATE ... WHERE id = $n RETURNING *, with SET columns in
// schema order.
func updateSQL(t Table, id string, patch Row) (string, []any) {
	var sets []string
	var args []any
	for _, c := range ColumnNames(t) {
		v, ok := patch[c]
		if !ok || c == "id" {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", quote(c), len(args)))
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		quote(string(t)), strings.Join(sets, ", "), quote("id"), len(args), quoteAll(ColumnNames(t)))
	return sql, args
}
