package crm

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

const (
	UnknownPatient = "Unknown Patient"
	UnknownClinic  = "Unknown Clinic"
)

// MergedFollowUp is a follow-up with the names of its patient and clinic
// resolved for display.
type MergedFollowUp struct {
	FollowUp
	PatientName string `json:"patientName"`
	ClinicName  string `json:"clinicName"`
}

// MergeFollowUps joins follow-ups to patients and, through the patient, to
// clinics. The result is ordered by date descending, then by id.
func MergeFollowUps(followUps []FollowUp, patients []Patient, clinics []Clinic) []MergedFollowUp {
	byPatient := lo.KeyBy(patients, func(p Patient) string { return p.ID })
	byClinic := lo.KeyBy(clinics, func(c Clinic) string { return c.ID })

	out := lo.Map(followUps, func(f FollowUp, _ int) MergedFollowUp {
		m := MergedFollowUp{FollowUp: f, PatientName: UnknownPatient, ClinicName: UnknownClinic}
		p, ok := byPatient[f.PatientID]
		if !ok {
			return m
		}
		if p.Name != "" {
			m.PatientName = p.Name
		}
		if c, ok := byClinic[p.ClinicID]; ok && c.Name != "" {
			m.ClinicName = c.Name
		}
		return m
	})

	slices.SortStableFunc(out, func(a, b MergedFollowUp) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
