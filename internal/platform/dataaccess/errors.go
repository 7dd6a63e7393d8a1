package dataaccess

import (
	"fmt"

	"github.com/clinic/crm/internal/platform/store"
)

// Error is the user-facing failure kept in query and mutation state.
type Error struct {
	Kind    store.Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Permission failures are expected at lower privilege and reported as
// fallback mode rather than as a load failure.
const demoModeMessage = "Using demo data mode: limited access to remote data"

func queryError(t store.Table, err error) *Error {
	kind := store.KindOf(err)
	e := &Error{Kind: kind, Cause: err}
	switch kind {
	case store.KindPermission:
		e.Message = demoModeMessage
	case store.KindConnectivity:
		e.Message = fmt.Sprintf("Unable to connect to %s", t)
	default:
		e.Message = fmt.Sprintf("Failed to load %s. Please try again.", t)
	}
	return e
}

func mutationError(op string, t store.Table, err error) *Error {
	kind := store.KindOf(err)
	e := &Error{Kind: kind, Cause: err}
	switch kind {
	case store.KindConnectivity:
		e.Message = fmt.Sprintf("Unable to connect to %s", t)
	case store.KindValidation:
		e.Message = fmt.Sprintf("Invalid %s request on %s", op, t)
	case store.KindPermission:
		e.Message = fmt.Sprintf("Not allowed to %s %s", op, t)
	case store.KindNotFound:
		e.Message = fmt.Sprintf("Record not found in %s", t)
	default:
		e.Message = fmt.Sprintf("Failed to %s %s. Please try again.", op, t)
	}
	return e
}
