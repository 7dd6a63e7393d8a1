// Package conncheck verifies a table is reachable before an operation runs.
package conncheck

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

// DefaultRetryDelay separates attempts after a transient failure.
const DefaultRetryDelay = time.Second

// Retry budgets used by the data-access layer.
const (
	QueryRetries  = 2
	InsertRetries = 3
	UpdateRetries = 1
	DeleteRetries = 1
)

// Pinger is the slice of store.Client the checker needs.
type Pinger interface {
	Ping(ctx context.Context, t store.Table) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Checker struct {
	pinger Pinger
	delay  time.Duration
	sleep  Sleeper
	logger zerolog.Logger
}

type Option func(*Checker)

func WithRetryDelay(d time.Duration) Option {
	return func(c *Checker) { c.delay = d }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Checker) { c.sleep = s }
}

func NewChecker(p Pinger, logger zerolog.Logger, opts ...Option) *Checker {
	c := &Checker{
		pinger: p,
		delay:  DefaultRetryDelay,
		sleep:  SleepContext,
		logger: logger.With().Str("component", "conncheck").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Check pings t, retrying up to retries more times while the failure is
// transient. It returns false on exhaustion, on any other failure, or when
// ctx ends; it never panics.
func (c *Checker) Check(ctx context.Context, t store.Table, retries int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("table", t.String()).Str("panic", fmt.Sprint(r)).Msg("connection check panicked")
			ok = false
		}
	}()

	for attempt := 1; ; attempt++ {
		err := c.pinger.Ping(ctx, t)
		telemetry.ConnectionChecksTotal.WithLabelValues(t.String(), telemetry.Result(err)).Inc()
		if err == nil {
			return true
		}

		kind := store.KindOf(err)
		c.logger.Warn().Err(err).
			Str("table", t.String()).
			Str("kind", kind.String()).
			Int("attempt", attempt).
			Int("retries_left", retries).
			Msg("connection check failed")

		if kind != store.KindTransient || retries <= 0 {
			return false
		}
		retries--
		if err := c.sleep(ctx, c.delay); err != nil {
			return false
		}
	}
}
