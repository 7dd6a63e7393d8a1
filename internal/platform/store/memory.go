package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is an in-process Client with the same filter, order and
// pagination semantics as PGClient. Rows keep insertion order.
type MemoryClient struct {
	mu     sync.RWMutex
	tables map[Table][]Row

	// Hook, when set, runs before every operation; a non-nil return aborts
	// the operation with that error.
	Hook func(op string, t Table) error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{tables: make(map[Table][]Row)}
}

func (m *MemoryClient) before(op string, t Table) error {
	if _, ok := schemas[t]; !ok {
		return Errorf(KindValidation, op, t, "unknown table %q", t)
	}
	if m.Hook != nil {
		if err := m.Hook(op, t); err != nil {
			return wrap(op, t, err)
		}
	}
	return nil
}

func (m *MemoryClient) matching(t Table, filters []Filter) []Row {
	var out []Row
	for _, r := range m.tables[t] {
		if Match(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryClient) Count(ctx context.Context, t Table, filters []Filter) (int, error) {
	if err := m.before("count", t); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(t, filters)), nil
}

func (m *MemoryClient) Select(ctx context.Context, t Table, opts SelectOptions) ([]Row, error) {
	if err := m.before("select", t); err != nil {
		return nil, err
	}
	if err := checkColumns("select", t, opts.Columns); err != nil {
		return nil, err
	}
	if err := checkOrder("select", t, opts.Order); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows := m.matching(t, opts.Filters)
	m.mu.RUnlock()

	SortRows(rows, opts.Order)
	page := Paginate(rows, opts.Limit, opts.Offset)
	out := make([]Row, len(page))
	for i, r := range page {
		out[i] = Project(clone(r), opts.Columns)
	}
	return out, nil
}

func (m *MemoryClient) Insert(ctx context.Context, t Table, rows ...Row) ([]Row, error) {
	if err := m.before("insert", t); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, Errorf(KindValidation, "insert", t, "no rows to insert")
	}

	prepared := make([]Row, len(rows))
	for i, r := range rows {
		nr, err := NormalizeRow(t, "insert", r)
		if err != nil {
			return nil, err
		}
		for _, col := range schemas[t] {
			if _, ok := nr[col.Name]; ok {
				continue
			}
			switch {
			case col.Name == "id":
				nr["id"] = uuid.NewString()
			case col.Default != nil:
				nr[col.Name] = col.Default()
			default:
				nr[col.Name] = nil
			}
		}
		prepared[i] = nr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range prepared {
		for _, existing := range m.tables[t] {
			if existing["id"] == r["id"] {
				return nil, Errorf(KindValidation, "insert", t, "duplicate id %v", r["id"])
			}
		}
	}
	m.tables[t] = append(m.tables[t], prepared...)

	out := make([]Row, len(prepared))
	for i, r := range prepared {
		out[i] = clone(r)
	}
	return out, nil
}

func (m *MemoryClient) Update(ctx context.Context, t Table, id string, patch Row) (Row, error) {
	if err := m.before("update", t); err != nil {
		return nil, err
	}
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

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.tables[t] {
		if r["id"] == id {
			for k, v := range np {
				r[k] = v
			}
			return clone(r), nil
		}
	}
	return nil, Errorf(KindNotFound, "update", t, "id %s not found", id)
}

func (m *MemoryClient) Delete(ctx context.Context, t Table, id string) error {
	if err := m.before("delete", t); err != nil {
		return err
	}
	if id == "" {
		return Errorf(KindValidation, "delete", t, "id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[t]
	for i, r := range rows {
		if r["id"] == id {
			m.tables[t] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return Errorf(KindNotFound, "delete", t, "id %s not found", id)
}

func (m *MemoryClient) DeleteAll(ctx context.Context, t Table) (int64, error) {
	if err := m.before("delete_all", t); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.tables[t]))
	delete(m.tables, t)
	return n, nil
}

func (m *MemoryClient) Ping(ctx context.Context, t Table) error {
	return m.before("ping", t)
}

func clone(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
