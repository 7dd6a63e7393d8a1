package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/clinic/crm/internal/platform/telemetry"
)

// BreakerClient guards a Client with a circuit breaker. Only connectivity,
// transient and unknown failures count against the breaker; an open breaker
// fails fast with KindConnectivity.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings configures NewBreakerClient.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
}

func NewBreakerClient(next Client, s BreakerSettings, logger zerolog.Logger) *BreakerClient {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Name == "" {
		s.Name = "crm-store"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			switch KindOf(err) {
			case KindPermission, KindValidation, KindNotFound:
				return true
			}
			return err == nil
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// State exposes the breaker state for health reporting.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func run[T any](b *BreakerClient, op string, t Table, fn func() (T, error)) (T, error) {
	defer telemetry.ObserveStore(op, time.Now())
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, wrap(op, t, err)
	}
	return res.(T), nil
}

func (b *BreakerClient) Count(ctx context.Context, t Table, filters []Filter) (int, error) {
	return run(b, "count", t, func() (int, error) { return b.next.Count(ctx, t, filters) })
}

func (b *BreakerClient) Select(ctx context.Context, t Table, opts SelectOptions) ([]Row, error) {
	return run(b, "select", t, func() ([]Row, error) { return b.next.Select(ctx, t, opts) })
}

func (b *BreakerClient) Insert(ctx context.Context, t Table, rows ...Row) ([]Row, error) {
	return run(b, "insert", t, func() ([]Row, error) { return b.next.Insert(ctx, t, rows...) })
}

func (b *BreakerClient) Update(ctx context.Context, t Table, id string, patch Row) (Row, error) {
	return run(b, "update", t, func() (Row, error) { return b.next.Update(ctx, t, id, patch) })
}

func (b *BreakerClient) Delete(ctx context.Context, t Table, id string) error {
	_, err := run(b, "delete", t, func() (struct{}, error) { return struct{}{}, b.next.Delete(ctx, t, id) })
	return err
}

func (b *BreakerClient) DeleteAll(ctx context.Context, t Table) (int64, error) {
	return run(b, "delete_all", t, func() (int64, error) { return b.next.DeleteAll(ctx, t) })
}

func (b *BreakerClient) Ping(ctx context.Context, t Table) error {
	_, err := run(b, "ping", t, func() (struct{}, error) { return struct{}{}, b.next.Ping(ctx, t) })
	return err
}
