package store

import (
	"strings"
	"testing"
)

func TestSelectQuery_FiltersAndPaging(t *testing.T) {
	filters, err := BuildFilters(Patients, map[string]any{
		"status": []string{"Cold"},
		"name":   "%ann%",
		"age":    30,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := newSelectQuery(Patients, []string{"id", "name"})
	q.applyFilters(filters)
	q.applyOrder(Order{Column: "created_at", Desc: true})

	count := q.countSQL()
	if !strings.Contains(count, `"age" = $1`) || !strings.Contains(count, `"name" ILIKE $2`) || !strings.Contains(count, `"status" = ANY($3)`) {
		t.Fatalf("unexpected count SQL: %s", count)
	}

	data := q.dataSQL(10, 20)
	if !strings.HasPrefix(data, `SELECT "id", "name" FROM "patients"`) {
		t.Errorf("unexpected select list: %s", data)
	}
	if !strings.Contains(data, `ORDER BY "created_at" DESC NULLS LAST, "id" ASC`) {
		t.Errorf("expected stable secondary sort, got: %s", data)
	}
	if !strings.HasSuffix(data, "LIMIT $4 OFFSET $5") {
		t.Errorf("unexpected paging clause: %s", data)
	}

	args := q.dataArgs(10, 20)
	if len(args) != 5 || args[3] != 10 || args[4] != 20 {
		t.Errorf("unexpected args: %v", args)
	}
	if status, ok := args[2].([]string); !ok || status[0] != "Cold" {
		t.Errorf("expected typed text array for IN, got %T", args[2])
	}
}

func TestSelectQuery_NoLimit(t *testing.T) {
	q := newSelectQuery(Clinics, nil)
	sql := q.dataSQL(0, 0)
	if strings.Contains(sql, "LIMIT") || strings.Contains(sql, "OFFSET") {
		t.Errorf("expected no paging clause, got %s", sql)
	}
	if !strings.HasSuffix(sql, `ORDER BY "id" ASC`) {
		t.Errorf("expected default id order, got %s", sql)
	}
}

func TestInsertSQL_DefaultsForMissingColumns(t *testing.T) {
	sql, args := insertSQL(FollowUps, []Row{
		{"type": "call", "notes": "first"},
		{"type": "message"},
	})
	if !strings.Contains(sql, `("type", "notes")`) {
		t.Fatalf("unexpected column list: %s", sql)
	}
	if !strings.Contains(sql, "($1, $2), ($3, DEFAULT)") {
		t.Fatalf("unexpected values: %s", sql)
	}
	if len(args) != 3 {
		t.Errorf("expected 3 args, got %d", len(args))
	}
	if !strings.Contains(sql, "RETURNING") {
		t.Error("expected RETURNING clause")
	}
}

func TestUpdateSQL_IgnoresID(t *testing.T) {
	sql, args := updateSQL(Patients, "p-1", Row{"id": "other", "status": "Booked"})
	if strings.Contains(sql, `"id" = $1`) {
		t.Fatalf("id must not be updated: %s", sql)
	}
	if !strings.Contains(sql, `SET "status" = $1 WHERE "id" = $2`) {
		t.Fatalf("unexpected SQL: %s", sql)
	}
	if args[1] != "p-1" {
		t.Errorf("expected id as last arg, got %v", args)
	}
}
