package conncheck

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/store"
)

type fakePinger struct {
	errs  []error
	calls int
	at    []time.Time
	clock *fakeClock
}

func (f *fakePinger) Ping(ctx context.Context, t store.Table) error {
	f.calls++
	f.at = append(f.at, f.clock.now)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return err
}

type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newFixture(errs ...error) (*fakePinger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return &fakePinger{errs: errs, clock: clock}, clock
}

func TestCheck_Success(t *testing.T) {
	p, clock := newFixture()
	c := NewChecker(p, zerolog.Nop(), WithSleeper(clock.sleep))
	if !c.Check(context.Background(), store.Patients, 2) {
		t.Fatal("expected check to pass")
	}
	if p.calls != 1 {
		t.Errorf("expected 1 ping, got %d", p.calls)
	}
}

func TestCheck_TransientExhaustsRetries(t *testing.T) {
	p, clock := newFixture(&pgconn.PgError{Code: store.CodeSerializationFailure})
	c := NewChecker(p, zerolog.Nop(), WithSleeper(clock.sleep))

	if c.Check(context.Background(), store.Patients, 2) {
		t.Fatal("expected check to fail")
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 pings (initial + 2 retries), got %d", p.calls)
	}
	for i := 1; i < len(p.at); i++ {
		if gap := p.at[i].Sub(p.at[i-1]); gap < 1000*time.Millisecond {
			t.Errorf("pings %d and %d only %s apart", i-1, i, gap)
		}
	}
}

func TestCheck_RecoversAfterTransient(t *testing.T) {
	p, clock := newFixture(&pgconn.PgError{Code: store.CodeDeadlockDetected}, nil)
	c := NewChecker(p, zerolog.Nop(), WithSleeper(clock.sleep))

	if !c.Check(context.Background(), store.FollowUps, 3) {
		t.Fatal("expected check to pass on the second ping")
	}
	if p.calls != 2 || len(clock.waits) != 1 {
		t.Errorf("expected 2 pings and 1 wait, got %d and %d", p.calls, len(clock.waits))
	}
}

func TestCheck_NonTransientFailsFast(t *testing.T) {
	p, clock := newFixture(&pgconn.PgError{Code: store.CodeInsufficientPrivilege})
	c := NewChecker(p, zerolog.Nop(), WithSleeper(clock.sleep))

	if c.Check(context.Background(), store.Patients, 5) {
		t.Fatal("expected check to fail")
	}
	if p.calls != 1 || len(clock.waits) != 0 {
		t.Errorf("expected a single ping without waiting, got %d pings", p.calls)
	}
}

func TestCheck_CancelledDuringWait(t *testing.T) {
	p, clock := newFixture(&pgconn.PgError{Code: store.CodeLockNotAvailable})
	c := NewChecker(p, zerolog.Nop(), WithSleeper(clock.sleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.Check(ctx, store.Patients, 2) {
		t.Fatal("expected cancelled check to fail")
	}
	if p.calls != 1 {
		t.Errorf("expected no retry after cancellation, got %d pings", p.calls)
	}
}

type panicPinger struct{}

func (panicPinger) Ping(ctx context.Context, t store.Table) error { panic("driver bug") }

func TestCheck_NeverPanics(t *testing.T) {
	c := NewChecker(panicPinger{}, zerolog.Nop())
	if c.Check(context.Background(), store.Patients, 1) {
		t.Fatal("expected false after panic")
	}
}

func TestSleepContext_WaitsAtLeastDelay(t *testing.T) {
	start := time.Now()
	if err := SleepContext(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected sleep to last the full delay")
	}
}
