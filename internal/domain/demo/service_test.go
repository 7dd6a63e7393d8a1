package demo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/dataaccess"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/localstore"
	"github.com/clinic/crm/internal/platform/store"
)

type okChecker struct{}

func (okChecker) Check(context.Context, store.Table, int) bool { return true }

func identityOf(uid string) dataaccess.IdentityFunc {
	return func(context.Context) string { return uid }
}

func newTestService(client *store.MemoryClient, cache localstore.Store, uid string) (*Service, *events.Hub) {
	hub := events.NewHub(zerolog.Nop())
	notifier := events.NewNotifier(hub, zerolog.Nop())
	mut := dataaccess.NewMutator(client, okChecker{}, hub, notifier, identityOf(uid), zerolog.Nop())
	return NewService(client, mut, cache, hub, notifier, identityOf(uid), NewGenerator(11, clock), zerolog.Nop()), hub
}

func count(t *testing.T, c store.Client, tbl store.Table) int {
	t.Helper()
	n, err := c.Count(context.Background(), tbl, nil)
	if err != nil {
		t.Fatalf("count %s: %v", tbl, err)
	}
	return n
}

func TestGenerate_ThenClear(t *testing.T) {
	client := store.NewMemoryClient()
	cache := localstore.NewMemoryStore()
	svc, hub := newTestService(client, cache, "doc-1")
	inv := hub.Subscribe(16, events.TableTopic("patients"), events.TableTopic("follow_ups"))
	defer inv.Close()
	ctx := context.Background()

	res, err := svc.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Simulated {
		t.Error("expected real inserts")
	}
	if len(res.Patients) != PatientCount || count(t, client, store.Patients) != PatientCount {
		t.Fatalf("expected %d patients, got %d", PatientCount, len(res.Patients))
	}
	nf := count(t, client, store.FollowUps)
	if nf < PatientCount || nf > 4*PatientCount || nf != len(res.FollowUps) {
		t.Fatalf("unexpected follow-up count %d", nf)
	}
	for _, key := range []string{localstore.KeyDemoPatients, localstore.KeyDemoFollowUps} {
		if ok, _ := localstore.Exists(ctx, cache, key); !ok {
			t.Errorf("expected %s cached", key)
		}
	}
	if len(inv.C) == 0 {
		t.Error("expected invalidation events")
	}

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if count(t, client, store.Patients) != 0 || count(t, client, store.FollowUps) != 0 {
		t.Error("expected tables empty after clear")
	}
	for _, key := range []string{localstore.KeyDemoPatients, localstore.KeyDemoFollowUps} {
		if ok, _ := localstore.Exists(ctx, cache, key); ok {
			t.Errorf("expected %s removed", key)
		}
	}
}

func TestGenerate_RefusesWhenPatientsExist(t *testing.T) {
	client := store.NewMemoryClient()
	if _, err := client.Insert(context.Background(), store.Patients, store.Row{"name": "Ana", "phone": "1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	inserts := 0
	client.Hook = func(op string, _ store.Table) error {
		if op == "insert" {
			inserts++
		}
		return nil
	}
	svc, _ := newTestService(client, localstore.NewMemoryStore(), "doc-1")

	_, err := svc.Generate(context.Background())
	if !errors.Is(err, ErrDataExists) {
		t.Fatalf("expected ErrDataExists, got %v", err)
	}
	if inserts != 0 {
		t.Errorf("expected zero inserts, got %d", inserts)
	}
	if count(t, client, store.Patients) != 1 {
		t.Error("expected store unchanged")
	}
}

func TestGenerate_NoIdentity(t *testing.T) {
	svc, _ := newTestService(store.NewMemoryClient(), localstore.NewMemoryStore(), "")
	if _, err := svc.Generate(context.Background()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestGenerate_SimulatesOnInsertFailure(t *testing.T) {
	client := store.NewMemoryClient()
	client.Hook = func(op string, _ store.Table) error {
		if op == "insert" {
			return &store.Error{Kind: store.KindPermission, Op: op, Err: errors.New("row-level security")}
		}
		return nil
	}
	cache := localstore.NewMemoryStore()
	svc, _ := newTestService(client, cache, "doc-1")

	res, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Simulated {
		t.Error("expected simulated result")
	}
	if len(res.Patients) != PatientCount || len(res.FollowUps) == 0 {
		t.Fatalf("expected fabricated rows, got %d patients %d follow-ups", len(res.Patients), len(res.FollowUps))
	}
	ids := map[any]bool{}
	for _, p := range res.Patients {
		id, _ := p["id"].(string)
		if len(id) < 5 || id[:5] != "demo-" {
			t.Errorf("expected fabricated id, got %v", p["id"])
		}
		ids[p["id"]] = true
		if p["created_by"] != "doc-1" {
			t.Errorf("expected created_by on fabricated row, got %v", p["created_by"])
		}
	}
	for _, f := range res.FollowUps {
		if !ids[f["patient_id"]] {
			t.Errorf("follow-up references unknown patient %v", f["patient_id"])
		}
	}

	var cached []store.Row
	if err := localstore.GetJSON(context.Background(), cache, localstore.KeyDemoPatients, &cached); err != nil {
		t.Fatalf("cached patients: %v", err)
	}
	if len(cached) != PatientCount {
		t.Errorf("expected %d cached patients, got %d", PatientCount, len(cached))
	}
}

func TestClear_ContinuesPastFailures(t *testing.T) {
	client := store.NewMemoryClient()
	cache := localstore.NewMemoryStore()
	ctx := context.Background()
	_ = localstore.SetJSON(ctx, cache, localstore.KeyDemoPatients, []store.Row{{"id": "x"}})
	if _, err := client.Insert(ctx, store.Patients, store.Row{"name": "Ana", "phone": "1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	client.Hook = func(op string, tbl store.Table) error {
		if op == "delete_all" && tbl == store.FollowUps {
			return &store.Error{Kind: store.KindPermission, Op: op, Table: tbl, Err: errors.New("denied")}
		}
		return nil
	}
	svc, _ := newTestService(client, cache, "doc-1")

	err := svc.Clear(ctx)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !store.Is(err, store.KindPermission) {
		t.Errorf("expected permission error in chain, got %v", err)
	}
	if count(t, client, store.Patients) != 0 {
		t.Error("expected patients cleared despite follow-up failure")
	}
	if ok, _ := localstore.Exists(ctx, cache, localstore.KeyDemoPatients); ok {
		t.Error("expected cache cleared")
	}
}

func TestGenerate_ConcurrentCallsSeedOnce(t *testing.T) {
	client := store.NewMemoryClient()
	client.Hook = func(op string, tbl store.Table) error {
		if op == "insert" && tbl == store.Patients {
			time.Sleep(20 * time.Millisecond)
		}
		return nil
	}
	svc, _ := newTestService(client, localstore.NewMemoryStore(), "doc-1")

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Generate(context.Background())
		}(i)
	}
	wg.Wait()

	seeded, refused := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			seeded++
		case errors.Is(err, ErrDataExists):
			refused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if seeded != 1 || refused != callers-1 {
		t.Errorf("expected 1 seeding run and %d refusals, got %d and %d", callers-1, seeded, refused)
	}
	if n := count(t, client, store.Patients); n != PatientCount {
		t.Errorf("expected %d patients, got %d", PatientCount, n)
	}
}
