package dataaccess

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinic/crm/internal/platform/conncheck"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

// IdentityFunc returns the acting user's id, or "".
type IdentityFunc func(ctx context.Context) string

// RowValidator checks a row before it is written. op is "insert" or "update".
type RowValidator func(op string, row store.Row) error

// MutationState is the outcome of the most recent mutation.
type MutationState struct {
	Loading bool
	Err     *Error
	Data    []store.Row
}

type Mutator struct {
	client     store.Client
	checker    Checker
	pub        events.Publisher
	notifier   *events.Notifier
	identity   IdentityFunc
	validators map[store.Table]RowValidator
	now        func() time.Time
	logger     zerolog.Logger

	mu    sync.Mutex
	state MutationState
}

type MutatorOption func(*Mutator)

// WithValidator runs v on every row written to t.
func WithValidator(t store.Table, v RowValidator) MutatorOption {
	return func(m *Mutator) { m.validators[t] = v }
}

func WithClock(now func() time.Time) MutatorOption {
	return func(m *Mutator) { m.now = now }
}

func NewMutator(client store.Client, checker Checker, pub events.Publisher, notifier *events.Notifier, identity IdentityFunc, logger zerolog.Logger, opts ...MutatorOption) *Mutator {
	if identity == nil {
		identity = func(context.Context) string { return "" }
	}
	m := &Mutator{
		client:     client,
		checker:    checker,
		pub:        pub,
		notifier:   notifier,
		identity:   identity,
		validators: make(map[store.Table]RowValidator),
		now:        time.Now,
		logger:     logger.With().Str("component", "mutator").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mutator) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Insert writes one row and returns it as stored.
func (m *Mutator) Insert(ctx context.Context, t store.Table, row store.Row) (store.Row, error) {
	rows, err := m.run(ctx, "insert", t, conncheck.InsertRetries, func() error {
		if len(row) == 0 {
			return store.Errorf(store.KindValidation, "insert", t, "row is required")
		}
		return nil
	}, func(ctx context.Context) ([]store.Row, error) {
		r, err := m.prepareInsert(ctx, t, row)
		if err != nil {
			return nil, err
		}
		return m.client.Insert(ctx, t, r)
	})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// BatchInsert writes rows in one statement.
func (m *Mutator) BatchInsert(ctx context.Context, t store.Table, rows []store.Row) ([]store.Row, error) {
	return m.run(ctx, "batch_insert", t, conncheck.InsertRetries, func() error {
		if len(rows) == 0 {
			return store.Errorf(store.KindValidation, "batch_insert", t, "rows are required")
		}
		for i, r := range rows {
			if len(r) == 0 {
				return store.Errorf(store.KindValidation, "batch_insert", t, "row %d is empty", i)
			}
		}
		return nil
	}, func(ctx context.Context) ([]store.Row, error) {
		prepared := make([]store.Row, len(rows))
		for i, r := range rows {
			pr, err := m.prepareInsert(ctx, t, r)
			if err != nil {
				return nil, err
			}
			prepared[i] = pr
		}
		return m.client.Insert(ctx, t, prepared...)
	})
}

// Update patches the row with id and returns it.
func (m *Mutator) Update(ctx context.Context, t store.Table, id string, patch store.Row) (store.Row, error) {
	rows, err := m.run(ctx, "update", t, conncheck.UpdateRetries, func() error {
		if strings.TrimSpace(id) == "" {
			return store.Errorf(store.KindValidation, "update", t, "id is required")
		}
		if len(patch) == 0 {
			return store.Errorf(store.KindValidation, "update", t, "patch is required")
		}
		return nil
	}, func(ctx context.Context) ([]store.Row, error) {
		p := copyRow(patch)
		delete(p, "id")
		if v := m.validators[t]; v != nil {
			if err := v("update", p); err != nil {
				return nil, &store.Error{Kind: store.KindValidation, Op: "update", Table: t, Err: err}
			}
		}
		uid := m.identity(ctx)
		if uid != "" && store.HasColumn(t, "last_modified_by") {
			p["last_modified_by"] = uid
		}
		if store.HasColumn(t, "updated_at") {
			p["updated_at"] = m.now().UTC()
		}
		r, err := m.client.Update(ctx, t, id, p)
		if err != nil {
			return nil, err
		}
		return []store.Row{r}, nil
	})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// Remove deletes the row with id.
func (m *Mutator) Remove(ctx context.Context, t store.Table, id string) error {
	_, err := m.run(ctx, "delete", t, conncheck.DeleteRetries, func() error {
		if strings.TrimSpace(id) == "" {
			return store.Errorf(store.KindValidation, "delete", t, "id is required")
		}
		return nil
	}, func(ctx context.Context) ([]store.Row, error) {
		return nil, m.client.Delete(ctx, t, id)
	})
	return err
}

func (m *Mutator) prepareInsert(ctx context.Context, t store.Table, row store.Row) (store.Row, error) {
	r := copyRow(row)
	if uid := m.identity(ctx); uid != "" && store.HasColumn(t, "created_by") {
		if v, ok := r["created_by"]; !ok || v == nil || v == "" {
			r["created_by"] = uid
		}
	}
	if v := m.validators[t]; v != nil {
		if err := v("insert", r); err != nil {
			return nil, &store.Error{Kind: store.KindValidation, Op: "insert", Table: t, Err: err}
		}
	}
	return r, nil
}

// run resets state, validates arguments, checks the connection, performs
// fn and records the outcome. Failures are logged, announced and returned.
func (m *Mutator) run(ctx context.Context, op string, t store.Table, retries int, validate func() error, fn func(context.Context) ([]store.Row, error)) (rows []store.Row, err error) {
	m.mu.Lock()
	m.state = MutationState{Loading: true}
	m.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "dataaccess.mutate",
		attribute.String("table", string(t)),
		attribute.String("op", op))
	defer func() {
		telemetry.EndSpan(span, err)
		telemetry.MutationsTotal.WithLabelValues(string(t), op, telemetry.Result(err)).Inc()
	}()

	switch {
	case t == "":
		err = store.Errorf(store.KindValidation, op, t, "table is required")
	default:
		if _, perr := store.ParseTable(string(t)); perr != nil {
			err = perr
		} else {
			err = validate()
		}
	}
	if err == nil && !m.checker.Check(ctx, t, retries) {
		err = store.Errorf(store.KindConnectivity, op, t, "table %s unreachable", t)
	}
	if err == nil {
		rows, err = fn(ctx)
	}

	if err != nil {
		me := mutationError(op, t, err)
		m.mu.Lock()
		m.state = MutationState{Err: me}
		m.mu.Unlock()

		m.logger.Error().Err(err).Str("table", string(t)).Str("op", op).Msg(me.Message)
		m.notifier.Error(ctx, me.Message)
		return nil, me
	}

	m.mu.Lock()
	m.state = MutationState{Data: rows}
	m.mu.Unlock()

	if m.pub != nil {
		if perr := events.Invalidate(ctx, m.pub, string(t)); perr != nil {
			m.logger.Warn().Err(perr).Str("table", string(t)).Msg("failed to publish invalidation")
		}
	}
	return rows, nil
}

func copyRow(r store.Row) store.Row {
	out := make(store.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
