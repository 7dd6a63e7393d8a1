// Package store is the row-level client for the CRM's remote tables.
package store

import "context"

// Row is one table row keyed by column name.
type Row = map[string]any

// SelectOptions shapes a Select. Offset and Limit are row counts; Limit 0
// returns every matching row.
type SelectOptions struct {
	Columns []string
	Filters []Filter
	Order   Order
	Limit   int
	Offset  int
}

// Client is the capability the data-access layer needs from the remote store.
// Every returned error is an *Error.
type Client interface {
	Count(ctx context.Context, t Table, filters []Filter) (int, error)
	Select(ctx context.Context, t Table, opts SelectOptions) ([]Row, error)
	Insert(ctx context.Context, t Table, rows ...Row) ([]Row, error)
	Update(ctx context.Context, t Table, id string, patch Row) (Row, error)
	Delete(ctx context.Context, t Table, id string) error
	DeleteAll(ctx context.Context, t Table) (int64, error)
	// Ping runs a zero-row read to verify the table is reachable.
	Ping(ctx context.Context, t Table) error
}

func checkColumns(op string, t Table, cols []string) error {
	for _, c := range cols {
		if !HasColumn(t, c) {
			return Errorf(KindValidation, op, t, "unknown column %q", c)
		}
	}
	return nil
}

func checkOrder(op string, t Table, o Order) error {
	if o.Column != "" && !HasColumn(t, o.Column) {
		return Errorf(KindValidation, op, t, "unknown order column %q", o.Column)
	}
	return nil
}
