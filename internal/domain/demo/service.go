package demo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/domain/crm"
	"github.com/clinic/crm/internal/platform/dataaccess"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/localstore"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

var (
	ErrNoIdentity = errors.New("demo: no signed-in user")
	ErrDataExists = errors.New("demo: patients already exist")
)

// Inserter is the write side used for seeding; *dataaccess.Mutator
// implements it.
type Inserter interface {
	BatchInsert(ctx context.Context, t store.Table, rows []store.Row) ([]store.Row, error)
}

// Result is what a Generate run produced. Simulated is set when either
// table could not be written and local ids were fabricated instead.
type Result struct {
	Patients  []store.Row `json:"patients"`
	FollowUps []store.Row `json:"follow_ups"`
	Simulated bool        `json:"simulated"`
}

// Service runs one Generate or Clear at a time: the existence check, the
// generator draws and the inserts form a single unit.
type Service struct {
	mu sync.Mutex

	client   store.Client
	writer   Inserter
	cache    localstore.Store
	pub      events.Publisher
	notifier *events.Notifier
	identity dataaccess.IdentityFunc
	gen      *Generator
	logger   zerolog.Logger
}

func NewService(client store.Client, writer Inserter, cache localstore.Store, pub events.Publisher, notifier *events.Notifier, identity dataaccess.IdentityFunc, gen *Generator, logger zerolog.Logger) *Service {
	if gen == nil {
		gen = NewGenerator(0, nil)
	}
	return &Service{
		client:   client,
		writer:   writer,
		cache:    cache,
		pub:      pub,
		notifier: notifier,
		identity: identity,
		gen:      gen,
		logger:   logger.With().Str("component", "demo").Logger(),
	}
}

// Generate seeds PatientCount patients with follow-ups. It refuses to run
// when patients already exist. Failed inserts continue with fabricated ids
// so the demo is never blocked; the outcome is cached locally either way.
func (s *Service) Generate(ctx context.Context) (res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		outcome := telemetry.Result(err)
		if errors.Is(err, ErrDataExists) {
			outcome = "exists"
		}
		telemetry.DemoRunsTotal.WithLabelValues("generate", outcome).Inc()
	}()

	uid := s.identity(ctx)
	if uid == "" {
		return nil, ErrNoIdentity
	}

	n, cerr := s.client.Count(ctx, store.Patients, nil)
	switch {
	case cerr != nil:
		s.logger.Warn().Err(cerr).Msg("could not count existing patients, seeding anyway")
	case n > 0:
		s.notifier.Info(ctx, "Demo data already exists. Clear it before generating again.")
		return nil, ErrDataExists
	}

	patients := s.gen.Patients(PatientCount, uid)
	prows := make([]store.Row, 0, len(patients))
	for _, p := range patients {
		row, err := crm.ToRow(store.Patients, p)
		if err != nil {
			return nil, err
		}
		prows = append(prows, row)
	}
	res = &Result{}
	res.Patients, res.Simulated = s.insertOrSimulate(ctx, store.Patients, prows, uid)

	stored, err := crm.FromRows[crm.Patient](res.Patients)
	if err != nil {
		return nil, fmt.Errorf("decode seeded patients: %w", err)
	}
	var frows []store.Row
	for _, p := range stored {
		for _, f := range s.gen.FollowUps(p, uid) {
			row, err := crm.ToRow(store.FollowUps, f)
			if err != nil {
				return nil, err
			}
			frows = append(frows, row)
		}
	}
	var simulated bool
	res.FollowUps, simulated = s.insertOrSimulate(ctx, store.FollowUps, frows, uid)
	res.Simulated = res.Simulated || simulated

	if err := localstore.SetJSON(ctx, s.cache, localstore.KeyDemoPatients, res.Patients); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache demo patients")
	}
	if err := localstore.SetJSON(ctx, s.cache, localstore.KeyDemoFollowUps, res.FollowUps); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache demo follow-ups")
	}
	s.invalidate(ctx)

	msg := fmt.Sprintf("Generated %d demo patients and %d follow-ups", len(res.Patients), len(res.FollowUps))
	if res.Simulated {
		msg += " (stored locally)"
	}
	s.notifier.Success(ctx, msg)
	s.logger.Info().
		Int("patients", len(res.Patients)).
		Int("follow_ups", len(res.FollowUps)).
		Bool("simulated", res.Simulated).
		Msg("demo data generated")
	return res, nil
}

// insertOrSimulate batch-inserts rows; on failure it returns the rows with
// fabricated ids and table defaults instead.
func (s *Service) insertOrSimulate(ctx context.Context, t store.Table, rows []store.Row, uid string) ([]store.Row, bool) {
	if len(rows) == 0 {
		return []store.Row{}, false
	}
	inserted, err := s.writer.BatchInsert(ctx, t, rows)
	if err == nil {
		return inserted, false
	}
	s.logger.Warn().Err(err).Str("table", string(t)).Msg("demo insert failed, fabricating local records")

	now := time.Now().UTC()
	out := make([]store.Row, len(rows))
	for i, r := range rows {
		sim := store.Coerce(t, r)
		sim["id"] = "demo-" + uuid.NewString()
		for _, col := range store.Columns(t) {
			if _, ok := sim[col.Name]; ok {
				continue
			}
			switch {
			case col.Name == "created_by":
				sim["created_by"] = uid
			case col.Name == "created_at" || col.Name == "updated_at":
				sim[col.Name] = now
			case col.Default != nil:
				sim[col.Name] = col.Default()
			}
		}
		out[i] = sim
	}
	return out, true
}

// Clear deletes every follow-up, then every patient, then the cached
// copies. Each step runs regardless of earlier failures; the failures are
// returned joined.
func (s *Service) Clear(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		telemetry.DemoRunsTotal.WithLabelValues("clear", telemetry.Result(err)).Inc()
	}()

	var errs []error
	for _, t := range []store.Table{store.FollowUps, store.Patients} {
		n, derr := s.client.DeleteAll(ctx, t)
		if derr != nil {
			s.logger.Error().Err(derr).Str("table", string(t)).Msg("failed to clear table")
			errs = append(errs, fmt.Errorf("clear %s: %w", t, derr))
			continue
		}
		s.logger.Info().Int64("rows", n).Str("table", string(t)).Msg("table cleared")
	}
	for _, key := range []string{localstore.KeyDemoFollowUps, localstore.KeyDemoPatients} {
		if cerr := s.cache.Clear(ctx, key); cerr != nil && !errors.Is(cerr, localstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("clear cache %s: %w", key, cerr))
		}
	}
	s.invalidate(ctx)

	if err = errors.Join(errs...); err != nil {
		s.notifier.Warn(ctx, "Demo data was only partially cleared")
		return err
	}
	s.notifier.Success(ctx, "Demo data cleared")
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.pub == nil {
		return
	}
	if err := events.Invalidate(ctx, s.pub, string(store.Patients), string(store.FollowUps)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish invalidation")
	}
}
