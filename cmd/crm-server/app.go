package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/config"
	"github.com/clinic/crm/internal/domain/crm"
	"github.com/clinic/crm/internal/domain/demo"
	"github.com/clinic/crm/internal/domain/importer"
	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/conncheck"
	"github.com/clinic/crm/internal/platform/dataaccess"
	"github.com/clinic/crm/internal/platform/db"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/localstore"
	"github.com/clinic/crm/internal/platform/logging"
	"github.com/clinic/crm/internal/platform/session"
	"github.com/clinic/crm/internal/platform/store"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	migrator *db.Migrator
	client   store.Client
	local    localstore.Store

	hub      *events.Hub
	notifier *events.Notifier

	tokens   *auth.TokenIssuer
	provider *auth.PasswordProvider
	profiles *session.StoreProfiles
	sessions *session.Manager

	source   *dataaccess.Source
	mutator  *dataaccess.Mutator
	demo     *demo.Service
	importer *importer.Importer

	closers []func() error
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	return logging.New(os.Stdout, logging.Options{
		Level:     cfg.LogLevel,
		Pretty:    cfg.IsDev(),
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
}

// newApp connects the configured backends and builds the service graph.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var users auth.UserRepository
	switch cfg.StoreDriver {
	case "memory":
		a.client = store.NewMemoryClient()
		users = auth.NewMemoryUserRepository()
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.migrator = db.NewMigrator(pool, cfg.MigrationsDir)
		a.client = store.NewBreakerClient(store.NewPGClient(pool), store.BreakerSettings{
			Name:        "store",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}, logger)
		users = auth.NewPGUserRepository(pool)
		logger.Info().Msg("connected to database")
	}

	local, err := openLocalStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.local = local

	a.hub = events.NewHub(logger)
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		relay := events.NewNATSRelay(nc, a.hub, logger)
		if err := relay.Start(); err != nil {
			nc.Close()
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil }, relay.Close)
	}
	a.notifier = events.NewNotifier(a.hub, logger)

	a.tokens = auth.NewTokenIssuer(cfg.SigningKey(), cfg.SessionTTL)
	a.provider = auth.NewPasswordProvider(users, a.tokens, local)
	a.profiles = session.NewStoreProfiles(a.client)
	a.sessions = session.NewManager(local, a.provider, a.profiles, a.hub, logger, session.Options{
		AllowBypass:    cfg.AllowBypass,
		BypassEmail:    cfg.BypassEmail,
		BypassPassword: cfg.BypassPassword,
	})
	if err := a.sessions.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore session")
	}

	checker := conncheck.NewChecker(a.client, logger, conncheck.WithRetryDelay(cfg.CheckRetryDelay))
	a.source = dataaccess.NewSource(a.client, checker, local, logger)
	a.mutator = dataaccess.NewMutator(a.client, checker, a.hub, a.notifier, a.identity, logger,
		dataaccess.WithValidator(store.Patients, crm.ValidatePatientRow))
	a.demo = demo.NewService(a.client, a.mutator, local, a.hub, a.notifier, a.identity, nil, logger)
	a.importer = importer.New(a.mutator, cfg.DefaultPhoneRegion, logger)
	return a, nil
}

// identity is the acting user: the request's caller, or the process
// session for commands run outside a request.
func (a *app) identity(ctx context.Context) string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return id
	}
	return a.sessions.UserID()
}

func openLocalStore(ctx context.Context, cfg *config.Config) (localstore.Store, error) {
	switch cfg.LocalStore {
	case "memory":
		return localstore.NewMemoryStore(), nil
	case "redis":
		return localstore.NewRedisStore(ctx, cfg.RedisURL)
	default:
		return localstore.NewFileStore(cfg.LocalStoreDir)
	}
}

// actAs returns ctx carrying the process session's identity, signing in
// with the bypass account when nobody is signed in.
func (a *app) actAs(ctx context.Context) (context.Context, error) {
	if !a.sessions.IsAuthenticated(ctx) {
		if _, err := a.sessions.BypassAuth(ctx); err != nil {
			return nil, fmt.Errorf("no signed-in user: %w", err)
		}
	}
	if id, ok := a.sessions.BypassIdentity(ctx); ok {
		return auth.WithIdentity(ctx, id), nil
	}
	id := &auth.Identity{UserID: a.sessions.UserID(), Role: auth.RoleDoctor}
	if id.UserID == "" {
		return nil, demo.ErrNoIdentity
	}
	if p := a.sessions.Profile(); p != nil {
		id.Email = p.Email
		if p.Role != "" {
			id.Role = p.Role
		}
	}
	return auth.WithIdentity(ctx, id), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	if c, ok := a.local.(io.Closer); ok {
		c.Close()
	}
}
