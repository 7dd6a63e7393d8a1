// Package dataaccess turns store reads and writes into stateful queries and
// mutations: connection checks, demo cache fallback, notices and
// invalidation.
package dataaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinic/crm/internal/platform/conncheck"
	"github.com/clinic/crm/internal/platform/localstore"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

// Origin tags where a result's rows came from.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginCache  Origin = "cache"
	OriginNone   Origin = "none"
)

type Result struct {
	Origin Origin      `json:"origin"`
	Rows   []store.Row `json:"rows"`
	Count  int         `json:"count"`
}

// QueryOptions is the parameter set of a read. Page is zero-based; Limit 0
// means unbounded. Disabled short-circuits the read.
type QueryOptions struct {
	Columns  []string
	Filters  map[string]any
	Order    store.Order
	Limit    int
	Page     int
	Disabled bool
}

func (o QueryOptions) offset() int {
	if o.Limit <= 0 || o.Page <= 0 {
		return 0
	}
	return o.Page * o.Limit
}

// Checker gates operations on table reachability.
type Checker interface {
	Check(ctx context.Context, t store.Table, retries int) bool
}

// Fetcher is implemented by Source.
type Fetcher interface {
	Fetch(ctx context.Context, t store.Table, opts QueryOptions) (Result, error)
}

// cacheTables may fall back to the demo cache.
var cacheTables = map[store.Table]bool{
	store.Patients:  true,
	store.FollowUps: true,
}

// Source reads remote first, then the demo cache, then nothing.
type Source struct {
	client  store.Client
	checker Checker
	cache   localstore.Store
	logger  zerolog.Logger
}

func NewSource(client store.Client, checker Checker, cache localstore.Store, logger zerolog.Logger) *Source {
	return &Source{
		client:  client,
		checker: checker,
		cache:   cache,
		logger:  logger.With().Str("component", "dataaccess").Logger(),
	}
}

// Fetch runs a read. A permission failure that was answered from the cache
// returns both the cached result and the error.
func (s *Source) Fetch(ctx context.Context, t store.Table, opts QueryOptions) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "dataaccess.fetch", attribute.String("table", string(t)))
	defer func() {
		span.SetAttributes(attribute.String("origin", string(res.Origin)), attribute.Int("rows", len(res.Rows)))
		telemetry.EndSpan(span, err)
		telemetry.QueriesTotal.WithLabelValues(string(t), string(res.Origin)).Inc()
	}()

	res = Result{Origin: OriginNone, Rows: []store.Row{}}
	if opts.Disabled {
		return res, nil
	}

	filters, err := store.BuildFilters(t, opts.Filters)
	if err != nil {
		return res, err
	}

	if !s.checker.Check(ctx, t, conncheck.QueryRetries) {
		return res, store.Errorf(store.KindConnectivity, "query", t, "table %s unreachable", t)
	}

	count, err := s.client.Count(ctx, t, filters)
	var rows []store.Row
	if err == nil {
		rows, err = s.client.Select(ctx, t, store.SelectOptions{
			Columns: opts.Columns,
			Filters: filters,
			Order:   opts.Order,
			Limit:   opts.Limit,
			Offset:  opts.offset(),
		})
	}

	if err == nil && count > 0 {
		return Result{Origin: OriginRemote, Rows: rows, Count: count}, nil
	}
	if err != nil && !store.Is(err, store.KindPermission) {
		return res, err
	}

	if cacheTables[t] && s.cache != nil {
		cached, cerr := s.fromCache(ctx, t, filters, opts)
		if cerr != nil {
			s.logger.Warn().Err(cerr).Str("table", string(t)).Msg("demo cache unreadable")
		} else if cached.Count > 0 {
			return cached, err
		}
	}
	return res, err
}

func (s *Source) fromCache(ctx context.Context, t store.Table, filters []store.Filter, opts QueryOptions) (Result, error) {
	var raw []store.Row
	if err := localstore.GetJSON(ctx, s.cache, localstore.DemoKey(string(t)), &raw); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("read demo cache: %w", err)
	}

	matched := make([]store.Row, 0, len(raw))
	for _, r := range raw {
		r = store.Coerce(t, r)
		if store.Match(r, filters) {
			matched = append(matched, r)
		}
	}
	store.SortRows(matched, opts.Order)
	page := store.Paginate(matched, opts.Limit, opts.offset())
	rows := make([]store.Row, len(page))
	for i, r := range page {
		rows[i] = store.Project(r, opts.Columns)
	}
	return Result{Origin: OriginCache, Rows: rows, Count: len(matched)}, nil
}
