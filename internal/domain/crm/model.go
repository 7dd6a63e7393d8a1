// Package crm is the clinic CRM domain: patients, follow-ups and the
// dashboard views built from them.
package crm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinic/crm/internal/platform/store"
)

type Status string

const (
	StatusPending       Status = "Pending"
	StatusContacted     Status = "Contacted"
	StatusInterested    Status = "Interested"
	StatusNotInterested Status = "Not Interested"
	StatusBooked        Status = "Booked"
	StatusCold          Status = "Cold"
)

var Statuses = []Status{StatusPending, StatusContacted, StatusInterested, StatusNotInterested, StatusBooked, StatusCold}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type ColdReason string

const (
	ColdNoResponse     ColdReason = "no-response"
	ColdDeclined       ColdReason = "declined"
	ColdOptOut         ColdReason = "opt-out"
	ColdInvalidContact ColdReason = "invalid-contact"
	ColdBudget         ColdReason = "budget-constraints"
)

var ColdReasons = []ColdReason{ColdNoResponse, ColdDeclined, ColdOptOut, ColdInvalidContact, ColdBudget}

func (r ColdReason) Valid() bool {
	for _, v := range ColdReasons {
		if r == v {
			return true
		}
	}
	return false
}

// Outcome is a follow-up response or a patient's last interaction outcome.
type Outcome string

const (
	OutcomeYes      Outcome = "Yes"
	OutcomeNo       Outcome = "No"
	OutcomeMaybe    Outcome = "Maybe"
	OutcomeNoAnswer Outcome = "No Answer"
)

var Outcomes = []Outcome{OutcomeYes, OutcomeNo, OutcomeMaybe, OutcomeNoAnswer}

func (o Outcome) Valid() bool {
	for _, v := range Outcomes {
		if o == v {
			return true
		}
	}
	return false
}

// Patient maps to the patients table.
type Patient struct {
	ID                     string     `db:"id" json:"id,omitempty"`
	Name                   string     `db:"name" json:"name"`
	Age                    *int       `db:"age" json:"age,omitempty"`
	Gender                 string     `db:"gender" json:"gender,omitempty"`
	Phone                  string     `db:"phone" json:"phone"`
	Email                  string     `db:"email" json:"email,omitempty"`
	TreatmentCategory      string     `db:"treatment_category" json:"treatment_category,omitempty"`
	TreatmentType          string     `db:"treatment_type" json:"treatment_type,omitempty"`
	Price                  *int       `db:"price" json:"price,omitempty"`
	DoctorID               string     `db:"doctor_id" json:"doctor_id,omitempty"`
	ClinicID               string     `db:"clinic_id" json:"clinic_id,omitempty"`
	Status                 Status     `db:"status" json:"status,omitempty"`
	FollowUpRequired       bool       `db:"follow_up_required" json:"follow_up_required"`
	FollowUpTime           string     `db:"follow_up_time" json:"follow_up_time,omitempty"`
	FollowUpChannel        string     `db:"follow_up_channel" json:"follow_up_channel,omitempty"`
	Notes                  string     `db:"notes" json:"notes,omitempty"`
	Script                 string     `db:"script" json:"script,omitempty"`
	LastInteraction        *time.Time `db:"last_interaction" json:"last_interaction,omitempty"`
	LastInteractionOutcome Outcome    `db:"last_interaction_outcome" json:"last_interaction_outcome,omitempty"`
	ColdReason             ColdReason `db:"cold_reason" json:"cold_reason,omitempty"`
	CreatedBy              string     `db:"created_by" json:"created_by,omitempty"`
	LastModifiedBy         string     `db:"last_modified_by" json:"last_modified_by,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at,omitzero"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at,omitzero"`
}

// FollowUp maps to the follow_ups table. An empty Response means no
// response yet.
type FollowUp struct {
	ID        string    `db:"id" json:"id,omitempty"`
	PatientID string    `db:"patient_id" json:"patient_id,omitempty"`
	Type      string    `db:"type" json:"type"`
	Date      time.Time `db:"date" json:"date,omitzero"`
	Time      string    `db:"time" json:"time,omitempty"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	Response  Outcome   `db:"response" json:"response,omitempty"`
	CreatedBy string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at,omitzero"`
}

type Clinic struct {
	ID        string    `db:"id" json:"id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address,omitempty"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	Email     string    `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at,omitzero"`
}

type Profile struct {
	ID        string    `db:"id" json:"id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at,omitzero"`
}

// ToRow converts a model to a row for table t. Zero optional fields are
// left out so the table defaults apply.
func ToRow(t store.Table, v any) (store.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", t, err)
	}
	var row store.Row
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", t, err)
	}
	return store.NormalizeRow(t, "insert", row)
}

// FromRow decodes a row into a model pointer.
func FromRow(row store.Row, v any) error {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	return json.Unmarshal(b, v)
}

// FromRows decodes rows into a slice of T.
func FromRows[T any](rows []store.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := FromRow(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
