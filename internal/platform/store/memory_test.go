package store

import (
	"context"
	"testing"
)

func seedPatients(t *testing.T, m *MemoryClient) {
	t.Helper()
	rows := []Row{
		{"id": "p1", "name": "Ana", "phone": "1", "status": "Cold", "cold_reason": "declined"},
		{"id": "p2", "name": "Ben", "phone": "2", "status": "Booked"},
		{"id": "p3", "name": "Cara", "phone": "3", "status": "Cold", "cold_reason": "opt-out"},
		{"id": "p4", "name": "Dev", "phone": "4", "status": "Pending"},
		{"id": "p5", "name": "Eli", "phone": "5", "status": "Interested"},
	}
	if _, err := m.Insert(context.Background(), Patients, rows...); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestMemoryClient_StatusFilter(t *testing.T) {
	m := NewMemoryClient()
	seedPatients(t, m)
	ctx := context.Background()

	filters, _ := BuildFilters(Patients, map[string]any{"status": []string{"Cold"}})
	count, err := m.Count(ctx, Patients, filters)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	rows, err := m.Select(ctx, Patients, SelectOptions{Filters: filters})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if count != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 Cold patients, got count=%d rows=%d", count, len(rows))
	}
	for _, r := range rows {
		if r["status"] != "Cold" {
			t.Errorf("unexpected row %v", r)
		}
	}
}

func TestMemoryClient_InsertAppliesDefaults(t *testing.T) {
	m := NewMemoryClient()
	rows, err := m.Insert(context.Background(), Patients, Row{"name": "Fay", "phone": "6"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	r := rows[0]
	if r["id"] == "" || r["id"] == nil {
		t.Error("expected generated id")
	}
	if r["status"] != "Pending" {
		t.Errorf("expected default status Pending, got %v", r["status"])
	}
	if r["created_at"] == nil {
		t.Error("expected created_at default")
	}
}

func TestMemoryClient_UnknownColumn(t *testing.T) {
	m := NewMemoryClient()
	_, err := m.Insert(context.Background(), Patients, Row{"name": "x", "shoe_size": 42})
	if !Is(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryClient_UpdateDelete(t *testing.T) {
	m := NewMemoryClient()
	seedPatients(t, m)
	ctx := context.Background()

	row, err := m.Update(ctx, Patients, "p4", Row{"status": "Contacted"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if row["status"] != "Contacted" {
		t.Errorf("expected Contacted, got %v", row["status"])
	}

	if _, err := m.Update(ctx, Patients, "missing", Row{"status": "Booked"}); !Is(err, KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := m.Delete(ctx, Patients, "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n, _ := m.Count(ctx, Patients, nil); n != 4 {
		t.Errorf("expected 4 rows after delete, got %d", n)
	}

	removed, err := m.DeleteAll(ctx, Patients)
	if err != nil || removed != 4 {
		t.Fatalf("expected 4 removed, got %d (%v)", removed, err)
	}
}

func TestMemoryClient_OrderAndPage(t *testing.T) {
	m := NewMemoryClient()
	seedPatients(t, m)

	rows, err := m.Select(context.Background(), Patients, SelectOptions{
		Columns: []string{"id", "name"},
		Order:   Order{Column: "name", Desc: true},
		Limit:   2,
		Offset:  2,
	})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(rows) != 2 || rows[0]["name"] != "Cara" || rows[1]["name"] != "Ben" {
		t.Fatalf("unexpected page: %v", rows)
	}
	if _, ok := rows[0]["status"]; ok {
		t.Error("expected projection to drop unselected columns")
	}
}

func TestMemoryClient_Hook(t *testing.T) {
	m := NewMemoryClient()
	m.Hook = func(op string, tbl Table) error {
		if op == "ping" {
			return Errorf(KindPermission, op, tbl, "denied")
		}
		return nil
	}
	if err := m.Ping(context.Background(), Patients); !Is(err, KindPermission) {
		t.Fatalf("expected permission error from hook, got %v", err)
	}
}
