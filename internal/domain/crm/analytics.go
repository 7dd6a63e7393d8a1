package crm

import (
	"github.com/samber/lo"
)

// Conversion summarises how patients move through the pipeline.
type Conversion struct {
	TotalPatients    int                `json:"total_patients"`
	ByStatus         map[Status]int     `json:"by_status"`
	Booked           int                `json:"booked"`
	ConversionRate   float64            `json:"conversion_rate"`
	ColdReasons      map[ColdReason]int `json:"cold_reasons"`
	TotalFollowUps   int                `json:"total_follow_ups"`
	Responses        map[Outcome]int    `json:"responses"`
	AwaitingResponse int                `json:"awaiting_response"`
}

// ComputeConversion counts patients by status and follow-ups by response.
// ConversionRate is booked/total and zero when there are no patients.
func ComputeConversion(patients []Patient, followUps []FollowUp) Conversion {
	c := Conversion{
		TotalPatients:  len(patients),
		TotalFollowUps: len(followUps),
		ByStatus:       make(map[Status]int, len(Statuses)),
		ColdReasons:    map[ColdReason]int{},
		Responses:      map[Outcome]int{},
	}
	for _, s := range Statuses {
		c.ByStatus[s] = 0
	}
	for s, n := range lo.CountValuesBy(patients, func(p Patient) Status {
		if p.Status == "" {
			return StatusPending
		}
		return p.Status
	}) {
		c.ByStatus[s] = n
	}
	c.Booked = c.ByStatus[StatusBooked]
	if c.TotalPatients > 0 {
		c.ConversionRate = float64(c.Booked) / float64(c.TotalPatients)
	}

	cold := lo.Filter(patients, func(p Patient, _ int) bool {
		return p.Status == StatusCold && p.ColdReason != ""
	})
	c.ColdReasons = lo.CountValuesBy(cold, func(p Patient) ColdReason { return p.ColdReason })

	answered, waiting := lo.FilterReject(followUps, func(f FollowUp, _ int) bool { return f.Response != "" })
	c.AwaitingResponse = len(waiting)
	c.Responses = lo.CountValuesBy(answered, func(f FollowUp) Outcome { return f.Response })
	return c
}
