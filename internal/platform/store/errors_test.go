package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"permission", &pgconn.PgError{Code: "42501"}, KindPermission},
		{"serialization", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, KindTransient},
		{"lock", &pgconn.PgError{Code: "55P03"}, KindTransient},
		{"not null", &pgconn.PgError{Code: "23502"}, KindValidation},
		{"bad input", &pgconn.PgError{Code: "22P02"}, KindValidation},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, KindConnectivity},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, KindUnknown},
		{"deadline", context.DeadlineExceeded, KindConnectivity},
		{"breaker", gobreaker.ErrOpenState, KindConnectivity},
		{"no rows", pgx.ErrNoRows, KindNotFound},
		{"wrapped", fmt.Errorf("outer: %w", &pgconn.PgError{Code: "42501"}), KindPermission},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify() = %s, want %s", got, c.want)
			}
		})
	}
}

func TestWrap_KeepsCodeAndKind(t *testing.T) {
	err := wrap("select", Patients, &pgconn.PgError{Code: "42501", Message: "permission denied"})
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Kind != KindPermission || se.Code != "42501" || se.Table != Patients {
		t.Errorf("unexpected error fields: %+v", se)
	}

	again := wrap("count", Clinics, err)
	if again != err {
		t.Error("expected wrap to keep an existing store error")
	}
}

func TestKindOf_Nil(t *testing.T) {
	if KindOf(nil) != KindUnknown {
		t.Error("expected unknown for nil")
	}
	if Is(nil, KindUnknown) {
		t.Error("nil must not match any kind")
	}
}
