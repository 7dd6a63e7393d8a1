package crm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinic/crm/internal/platform/store"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrPhoneRequired = errors.New("phone is required")
)

// Validate checks required fields and the cold-reason invariant: Cold
// patients carry a known reason, every other status carries none.
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(p.Phone) == "" {
		return ErrPhoneRequired
	}
	status := p.Status
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	if p.LastInteractionOutcome != "" && !p.LastInteractionOutcome.Valid() {
		return fmt.Errorf("invalid last interaction outcome %q", p.LastInteractionOutcome)
	}
	return checkColdReason(status, p.ColdReason)
}

func checkColdReason(status Status, reason ColdReason) error {
	if status == StatusCold {
		if !reason.Valid() {
			return fmt.Errorf("status Cold requires a cold reason, got %q", reason)
		}
		return nil
	}
	if reason != "" {
		return fmt.Errorf("cold reason %q is only allowed with status Cold", reason)
	}
	return nil
}

// ValidatePatientRow checks a patients row before it is written. On update
// a status other than Cold clears any stored cold reason, and a cold reason
// may only be written together with status Cold.
func ValidatePatientRow(op string, row store.Row) error {
	if op == "insert" {
		if text(row["name"]) == "" {
			return ErrNameRequired
		}
		if text(row["phone"]) == "" {
			return ErrPhoneRequired
		}
	}
	if v, ok := row["last_interaction_outcome"]; ok && text(v) != "" {
		if o := Outcome(text(v)); !o.Valid() {
			return fmt.Errorf("invalid last interaction outcome %q", o)
		}
	}

	v, hasStatus := row["status"]
	reason := ColdReason(text(row["cold_reason"]))
	if !hasStatus || text(v) == "" {
		if op == "update" {
			if reason != "" {
				return fmt.Errorf("cold reason %q requires status Cold in the same update", reason)
			}
			return nil
		}
		return checkColdReason(StatusPending, reason)
	}

	status := Status(text(v))
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	row["status"] = string(status)
	if op == "update" && status != StatusCold {
		row["cold_reason"] = nil
		return nil
	}
	if err := checkColdReason(status, reason); err != nil {
		return err
	}
	if reason != "" {
		row["cold_reason"] = string(reason)
	}
	return nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
