//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clinic/crm/internal/platform/db"
)

func startPostgres(t *testing.T) *PGClient {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("crm"),
		tcpostgres.WithUsername("crm"),
		tcpostgres.WithPassword("crm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(pool.Close)

	n, err := db.NewMigrator(pool, "../../../migrations").Up(ctx)
	if err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	if n == 0 {
		t.Fatal("expected migrations to apply")
	}
	return NewPGClient(pool)
}

func TestPGClient_Integration(t *testing.T) {
	c := startPostgres(t)
	ctx := context.Background()

	if err := c.Ping(ctx, Patients); err != nil {
		t.Fatalf("ping: %v", err)
	}

	inserted, err := c.Insert(ctx, Patients,
		Row{"name": "Ana Silva", "phone": "+15550000001", "price": 1200},
		Row{"name": "Ben Okafor", "phone": "+15550000002", "status": "Booked"},
		Row{"name": "Cara Lee", "phone": "+15550000003", "status": "Cold", "cold_reason": "declined"},
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(inserted) != 3 {
		t.Fatalf("expected 3 rows returned, got %d", len(inserted))
	}
	if inserted[0]["id"] == "" || inserted[0]["status"] != "Pending" {
		t.Errorf("expected generated id and default status, got %v", inserted[0])
	}

	n, err := c.Count(ctx, Patients, []Filter{{Column: "status", Op: OpIn, Value: []string{"Booked", "Cold"}}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 booked or cold patients, got %d", n)
	}

	rows, err := c.Select(ctx, Patients, SelectOptions{
		Columns: []string{"id", "name"},
		Order:   Order{Column: "name", Desc: true},
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 || rows[0]["name"] != "Cara Lee" {
		t.Errorf("unexpected page %v", rows)
	}

	id, _ := inserted[0]["id"].(string)
	updated, err := c.Update(ctx, Patients, id, Row{"status": "Contacted"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["status"] != "Contacted" {
		t.Errorf("expected Contacted, got %v", updated["status"])
	}

	_, err = c.Update(ctx, Patients, id, Row{"status": "Cold"})
	if KindOf(err) != KindValidation {
		t.Errorf("expected validation error for cold without reason, got %v", err)
	}

	if _, err := c.Update(ctx, Patients, "missing", Row{"status": "Booked"}); KindOf(err) != KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := c.Insert(ctx, FollowUps, Row{
		"patient_id": id,
		"type":       "Call",
		"date":       "2026-10-01",
		"response":   "Yes",
	}); err != nil {
		t.Fatalf("insert follow-up: %v", err)
	}

	deleted, err := c.DeleteAll(ctx, FollowUps)
	if err != nil || deleted != 1 {
		t.Errorf("DeleteAll follow_ups = %d, %v", deleted, err)
	}
	if err := c.Delete(ctx, Patients, id); err != nil {
		t.Errorf("delete: %v", err)
	}
	if err := c.Delete(ctx, Patients, id); KindOf(err) != KindNotFound {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}
