package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
)

// Kind classifies a store failure so callers never inspect messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectivity
	KindTransient
	KindPermission
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// SQLSTATE codes the store reacts to.
const (
	CodeInsufficientPrivilege = "42501"
	CodeSerializationFailure  = "40001"
	CodeDeadlockDetected      = "40P01"
	CodeLockNotAvailable      = "55P03"
)

// Error is returned by every Client method.
type Error struct {
	Kind  Kind
	Op    string
	Table Table
	Code  string
	Err   error
}

func (e *Error) Error() string {
	msg := "store"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Table != "" {
		msg += " " + string(e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, op string, table Table, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Table: table, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind carried by err, classifying raw driver errors when
// err was not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Classify(err)
}

// Is reports whether err is a store error of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Classify maps driver, network and breaker errors onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindConnectivity
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindConnectivity
	case errors.Is(err, pgx.ErrNoRows):
		return KindNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindConnectivity
	}
	if pgconn.Timeout(err) {
		return KindConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}
	return KindUnknown
}

func classifyCode(code string) Kind {
	switch code {
	case CodeInsufficientPrivilege:
		return KindPermission
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return KindTransient
	}
	if len(code) < 2 {
		return KindUnknown
	}
	switch code[:2] {
	case "22", "23":
		return KindValidation
	case "08", "57":
		return KindConnectivity
	}
	return KindUnknown
}

// wrap turns err into an *Error for op on table, keeping an existing kind.
func wrap(op string, table Table, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	e := &Error{Kind: Classify(err), Op: op, Table: table, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e.Code = pgErr.Code
	}
	return e
}
