package dataaccess

import (
	"context"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/store"
)

// State is a snapshot of a Query.
type State struct {
	Rows    []store.Row `json:"rows"`
	Count   int         `json:"count"`
	Origin  Origin      `json:"origin"`
	Loading bool        `json:"loading"`
	Err     *Error      `json:"-"`
}

// Query is one consumer's view of a table read. Only the most recently
// started fetch may update its state; Close cancels fetches in flight.
type Query struct {
	src      Fetcher
	table    store.Table
	notifier *events.Notifier
	logger   zerolog.Logger

	bg     context.Context
	stopBg context.CancelFunc

	mu      sync.Mutex
	opts    QueryOptions
	state   State
	gen     uint64
	cancels map[uint64]context.CancelFunc
	sub     *events.Subscription
	closed  bool
}

func NewQuery(src Fetcher, t store.Table, opts QueryOptions, notifier *events.Notifier, logger zerolog.Logger) *Query {
	bg, stop := context.WithCancel(context.Background())
	return &Query{
		src:      src,
		table:    t,
		notifier: notifier,
		logger:   logger.With().Str("component", "query").Str("table", string(t)).Logger(),
		bg:       bg,
		stopBg:   stop,
		opts:     opts,
		state:    State{Origin: OriginNone},
		cancels:  make(map[uint64]context.CancelFunc),
	}
}

// Fetch runs the read with the current options and returns the resulting
// state. A fetch overtaken by a newer one returns the newer state untouched.
func (q *Query) Fetch(ctx context.Context) State {
	q.mu.Lock()
	if q.closed {
		st := q.state
		q.mu.Unlock()
		return st
	}
	q.gen++
	gen := q.gen
	if q.opts.Disabled {
		q.state = State{Origin: OriginNone}
		st := q.state
		q.mu.Unlock()
		return st
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	q.cancels[gen] = cancel
	q.state.Loading = true
	opts := q.opts
	q.mu.Unlock()

	res, err := q.src.Fetch(fetchCtx, q.table, opts)
	cancel()

	q.mu.Lock()
	delete(q.cancels, gen)
	if gen != q.gen || q.closed {
		st := q.state
		q.mu.Unlock()
		return st
	}
	st := State{Rows: res.Rows, Count: res.Count, Origin: res.Origin}
	if err != nil {
		st.Err = queryError(q.table, err)
	}
	q.state = st
	q.mu.Unlock()

	if st.Err != nil {
		q.report(ctx, st.Err)
	}
	return st
}

// Refetch re-runs the read with unchanged options.
func (q *Query) Refetch(ctx context.Context) State {
	return q.Fetch(ctx)
}

func (q *Query) report(ctx context.Context, e *Error) {
	evt := q.logger.Error()
	if e.Kind == store.KindPermission {
		evt = q.logger.Warn()
	}
	evt.Err(e.Cause).Str("kind", e.Kind.String()).Msg(e.Message)

	if e.Kind == store.KindPermission {
		q.notifier.Warn(ctx, e.Message)
	} else {
		q.notifier.Error(ctx, e.Message)
	}
}

// SetOptions replaces the parameters and reports whether they changed. A
// change triggers a background refetch while watching.
func (q *Query) SetOptions(opts QueryOptions) bool {
	q.mu.Lock()
	changed := !reflect.DeepEqual(q.opts, opts)
	q.opts = opts
	watching := q.sub != nil && !q.closed
	q.mu.Unlock()

	if changed && watching {
		go q.Fetch(q.bg)
	}
	return changed
}

func (q *Query) Options() QueryOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts
}

func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Watch refetches whenever the table is invalidated, until Close.
func (q *Query) Watch(hub *events.Hub) {
	q.mu.Lock()
	if q.closed || q.sub != nil {
		q.mu.Unlock()
		return
	}
	sub := hub.Subscribe(8, events.TableTopic(string(q.table)))
	q.sub = sub
	q.mu.Unlock()

	go func() {
		for range sub.C {
			q.Fetch(q.bg)
		}
	}()
}

// Close cancels in-flight fetches and stops watching.
func (q *Query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, cancel := range q.cancels {
		cancel()
	}
	sub := q.sub
	q.mu.Unlock()

	q.stopBg()
	if sub != nil {
		sub.Close()
	}
}
