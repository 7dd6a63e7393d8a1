// Package demo seeds a clinic with a randomized population of patients and
// follow-ups for demonstrations, and removes it again.
package demo

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/clinic/crm/internal/domain/crm"
)

const (
	PatientCount = 20

	patientWindow  = 90 * 24 * time.Hour
	followUpWindow = 60 * 24 * time.Hour

	minPrice, maxPrice = 100, 5000
	minAge, maxAge     = 18, 75

	followUpRequiredP = 0.8
)

var (
	treatments = map[string][]string{
		"Dental":        {"Cleaning", "Whitening", "Implants", "Braces", "Root Canal"},
		"Dermatology":   {"Botox", "Laser Resurfacing", "Chemical Peel", "Acne Treatment"},
		"Physiotherapy": {"Sports Injury", "Back Pain", "Post-Surgery Rehab"},
		"Cosmetic":      {"Fillers", "Hair Transplant", "Liposuction"},
		"Ophthalmology": {"LASIK", "Cataract Surgery", "Eye Exam"},
	}
	categories = sortedKeys(treatments)

	firstNames = []string{
		"James", "Mary", "Ahmed", "Sofia", "Wei", "Priya", "Lucas", "Amara",
		"Mateo", "Hannah", "Omar", "Yuki", "Elena", "Noah", "Fatima", "Diego",
	}
	lastNames = []string{
		"Smith", "Garcia", "Khan", "Chen", "Patel", "Rossi", "Okafor", "Silva",
		"Nguyen", "Meyer", "Haddad", "Kim", "Novak", "Brown",
	}
	genders          = []string{"Male", "Female", "Other"}
	followUpTimes    = []string{"Morning", "Afternoon", "Evening"}
	followUpChannels = []string{"Phone", "WhatsApp", "SMS", "Email"}
	followUpTypes    = []string{"call", "message", "whatsapp", "email"}

	// responseBias skews follow-up responses for a patient's status.
	responseBias = map[crm.Status][]crm.Outcome{
		crm.StatusInterested:    {crm.OutcomeYes, crm.OutcomeYes, crm.OutcomeMaybe, crm.OutcomeMaybe, crm.OutcomeNoAnswer},
		crm.StatusBooked:        {crm.OutcomeYes, crm.OutcomeYes, crm.OutcomeYes, crm.OutcomeMaybe},
		crm.StatusNotInterested: {crm.OutcomeNo, crm.OutcomeNo, crm.OutcomeNo, crm.OutcomeNoAnswer, crm.OutcomeMaybe},
		crm.StatusCold:          {crm.OutcomeNo, crm.OutcomeNoAnswer, crm.OutcomeNoAnswer},
	}

	responseNotes = map[crm.Outcome][]string{
		crm.OutcomeYes:      {"Patient confirmed interest in %s.", "Agreed to book a %s consultation."},
		crm.OutcomeNo:       {"Patient declined %s for now.", "Not interested in %s."},
		crm.OutcomeMaybe:    {"Patient is considering %s, call back next week.", "Asked for pricing details on %s."},
		crm.OutcomeNoAnswer: {"No answer, left a message about %s.", "Could not reach patient regarding %s."},
	}
)

func sortedKeys(m map[string][]string) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

// Generator draws demo records. It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator seeded for reproducibility. A zero seed
// is replaced by a time-based one and a nil now by time.Now.
func NewGenerator(seed int64, now func() time.Time) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: now}
}

func pick[T any](g *Generator, pool []T) T {
	return pool[g.rng.Intn(len(pool))]
}

// between returns a uniform instant in [from, to].
func (g *Generator) between(from, to time.Time) time.Time {
	span := to.Sub(from)
	if span <= 0 {
		return from
	}
	return from.Add(time.Duration(g.rng.Int63n(int64(span) + 1)))
}

// Patient draws one patient assigned to doctorID.
func (g *Generator) Patient(doctorID string) crm.Patient {
	now := g.now().UTC()
	first, last := pick(g, firstNames), pick(g, lastNames)
	category := pick(g, categories)
	age := minAge + g.rng.Intn(maxAge-minAge)
	price := minPrice + g.rng.Intn(maxPrice-minPrice)
	status := pick(g, crm.Statuses)
	created := g.between(now.Add(-patientWindow), now)
	interaction := g.between(created, now)

	p := crm.Patient{
		Name:              first + " " + last,
		Age:               &age,
		Gender:            pick(g, genders),
		Phone:             fmt.Sprintf("(%03d) %03d-%04d", 200+g.rng.Intn(800), 200+g.rng.Intn(800), g.rng.Intn(10000)),
		TreatmentCategory: category,
		TreatmentType:     pick(g, treatments[category]),
		Price:             &price,
		DoctorID:          doctorID,
		Status:            status,
		FollowUpRequired:  g.rng.Float64() < followUpRequiredP,
		FollowUpTime:      pick(g, followUpTimes),
		FollowUpChannel:   pick(g, followUpChannels),
		LastInteraction:   &interaction,
		CreatedAt:         created,
		UpdatedAt:         interaction,
	}
	if g.rng.Intn(10) < 7 {
		p.Email = strings.ToLower(first+"."+last) + "@example.com"
	}
	p.Notes = fmt.Sprintf("Enquired about %s (%s).", p.TreatmentType, category)
	p.Script = fmt.Sprintf("Hi %s, this is the clinic following up on your %s enquiry.", first, strings.ToLower(p.TreatmentType))

	switch status {
	case crm.StatusInterested:
		p.LastInteractionOutcome = crm.OutcomeYes
	case crm.StatusNotInterested:
		p.LastInteractionOutcome = crm.OutcomeNo
	case crm.StatusContacted:
		p.LastInteractionOutcome = pick(g, []crm.Outcome{crm.OutcomeMaybe, crm.OutcomeNoAnswer, crm.OutcomeYes})
	case crm.StatusCold:
		p.ColdReason = pick(g, crm.ColdReasons)
	}
	return p
}

// Patients draws n patients.
func (g *Generator) Patients(n int, doctorID string) []crm.Patient {
	out := make([]crm.Patient, n)
	for i := range out {
		out[i] = g.Patient(doctorID)
	}
	return out
}

// FollowUps draws one to four follow-ups for a patient within the trailing
// two months, never before the patient was created.
func (g *Generator) FollowUps(p crm.Patient, createdBy string) []crm.FollowUp {
	now := g.now().UTC()
	from := now.Add(-followUpWindow)
	if p.CreatedAt.After(from) {
		from = p.CreatedAt
	}
	bias, ok := responseBias[p.Status]
	if !ok {
		bias = crm.Outcomes
	}
	subject := strings.ToLower(p.TreatmentType)
	if subject == "" {
		subject = "treatment"
	}

	n := 1 + g.rng.Intn(4)
	out := make([]crm.FollowUp, n)
	for i := range out {
		at := g.between(from, now)
		resp := pick(g, bias)
		out[i] = crm.FollowUp{
			PatientID: p.ID,
			Type:      pick(g, followUpTypes),
			Date:      at,
			Time:      fmt.Sprintf("%02d:%02d", 9+g.rng.Intn(9), 15*g.rng.Intn(4)),
			Notes:     fmt.Sprintf(pick(g, responseNotes[resp]), subject),
			Response:  resp,
			CreatedBy: createdBy,
			CreatedAt: at,
		}
	}
	return out
}
