package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/crm/internal/platform/db"
)

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGClient implements Client on a pgx pool.
type PGClient struct {
	pool *pgxpool.Pool
}

func NewPGClient(pool *pgxpool.Pool) *PGClient {
	return &PGClient{pool: pool}
}

func (c *PGClient) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.pool
}

func (c *PGClient) Count(ctx context.Context, t Table, filters []Filter) (int, error) {
	q := newSelectQuery(t, nil)
	q.applyFilters(filters)

	var n int
	if err := c.conn(ctx).QueryRow(ctx, q.countSQL(), q.args...).Scan(&n); err != nil {
		return 0, wrap("count", t, err)
	}
	return n, nil
}

func (c *PGClient) Select(ctx context.Context, t Table, opts SelectOptions) ([]Row, error) {
	if err := checkColumns("select", t, opts.Columns); err != nil {
		return nil, err
	}
	if err := checkOrder("select", t, opts.Order); err != nil {
		return nil, err
	}

	q := newSelectQuery(t, opts.Columns)
	q.applyFilters(opts.Filters)
	q.applyOrder(opts.Order)

	rows, err := c.conn(ctx).Query(ctx, q.dataSQL(opts.Limit, opts.Offset), q.dataArgs(opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, wrap("select", t, err)
	}
	return collect("select", t, rows)
}

func (c *PGClient) Insert(ctx context.Context, t Table, rows ...Row) ([]Row, error) {
	if len(rows) == 0 {
		return nil, Errorf(KindValidation, "insert", t, "no rows to insert")
	}
	normalized := make([]Row, len(rows))
	for i, r := range rows {
		nr, err := NormalizeRow(t, "insert", r)
		if err != nil {
			return nil, err
		}
		normalized[i] = nr
	}

	sql, args := insertSQL(t, normalized)
	res, err := c.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("insert", t, err)
	}
	return collect("insert", t, res)
}

func (c *PGClient) Update(ctx context.Context, t Table, id string, patch Row) (Row, error) {
	if id == "" {
		return nil, Errorf(KindValidation, "update", t, "id is required")
	}
	delete(patch, "id")
	if len(patch) == 0 {
		return nil, Errorf(KindValidation, "update", t, "no fields to update")
	}
	np, err := NormalizeRow(t, "update", patch)
	if err != nil {
		return nil, err
	}

	sql, args := updateSQL(t, id, np)
	res, err := c.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("update", t, err)
	}
	row, err := pgx.CollectOneRow(res, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "update", t, "id %s not found", id)
		}
		return nil, wrap("update", t, err)
	}
	return Coerce(t, row), nil
}

func (c *PGClient) Delete(ctx context.Context, t Table, id string) error {
	if id == "" {
		return Errorf(KindValidation, "delete", t, "id is required")
	}
	tag, err := c.conn(ctx).Exec(ctx, "DELETE FROM "+quote(string(t))+" WHERE "+quote("id")+" = $1", id)
	if err != nil {
		return wrap("delete", t, err)
	}
	if tag.RowsAffected() == 0 {
		return Errorf(KindNotFound, "delete", t, "id %s not found", id)
	}
	return nil
}

func (c *PGClient) DeleteAll(ctx context.Context, t Table) (int64, error) {
	tag, err := c.conn(ctx).Exec(ctx, "DELETE FROM "+quote(string(t)))
	if err != nil {
		return 0, wrap("delete_all", t, err)
	}
	return tag.RowsAffected(), nil
}

func (c *PGClient) Ping(ctx context.Context, t Table) error {
	_, err := c.conn(ctx).Exec(ctx, "SELECT 1 FROM "+quote(string(t))+" LIMIT 0")
	return wrap("ping", t, err)
}

func collect(op string, t Table, rows pgx.Rows) ([]Row, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrap(op, t, err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Coerce(t, m)
	}
	return out, nil
}
