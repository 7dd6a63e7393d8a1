package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/clinic/crm/internal/config"
	"github.com/clinic/crm/internal/domain/crm"
	"github.com/clinic/crm/internal/domain/demo"
	"github.com/clinic/crm/internal/domain/importer"
	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/db"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/middleware"
	"github.com/clinic/crm/internal/platform/session"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crm-server",
		Short: "Clinic patient CRM API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withApp loads config, builds the app and runs fn with it.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, closer := newLogger(cfg)
	defer closer.Close()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")

	migrator := func(a *app) (*db.Migrator, error) {
		if a.pool == nil {
			return nil, errors.New("migrations require STORE_DRIVER=postgres")
		}
		if dir != "" {
			return db.NewMigrator(a.pool, dir), nil
		}
		return a.migrator, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				m, err := migrator(a)
				if err != nil {
					return err
				}
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				m, err := migrator(a)
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Printf("%03d  %-8s  %s\n", s.Version, state, s.Name)
				}
				return nil
			})
		},
	})

	return cmd
}

func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed or clear demo data",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate demo patients and follow-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				ctx, err := a.actAs(ctx)
				if err != nil {
					return err
				}
				res, err := a.demo.Generate(ctx)
				if errors.Is(err, demo.ErrDataExists) {
					fmt.Println("patients already exist, nothing generated")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println(summarizeDemo(res))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all patients and follow-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.demo.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("demo data cleared")
				return nil
			})
		},
	})

	return cmd
}

func importCmd() *cobra.Command {
	var doctorID string
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import patients from CSV or XLSX files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				ctx, err := a.actAs(ctx)
				if err != nil {
					return err
				}
				defaults := store.Row{}
				if doctorID != "" {
					defaults["doctor_id"] = doctorID
				}
				var failed bool
				for _, res := range a.importer.ImportFiles(ctx, args, defaults) {
					fmt.Println(summarizeImport(res))
					if res.Err != "" || res.Errors > 0 {
						failed = true
					}
				}
				if failed {
					return errors.New("import finished with errors")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id assigned to imported patients")
	return cmd
}

func summarizeDemo(res *demo.Result) string {
	msg := fmt.Sprintf("generated %d patients and %d follow-ups", len(res.Patients), len(res.FollowUps))
	if res.Simulated {
		msg += " (some rows simulated locally)"
	}
	return msg
}

func summarizeImport(res importer.Result) string {
	if res.Err != "" {
		return fmt.Sprintf("%s: %s", res.File, res.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d imported, %d failed", res.File, res.Success, res.Errors)
	for _, re := range res.RowErrors {
		fmt.Fprintf(&b, "\n  row %d: %s", re.Row, re.Message)
	}
	return b.String()
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
	}

	var email, password, name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a login and its profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateRole(role); err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				u, err := a.provider.Register(ctx, email, password)
				if err != nil {
					return err
				}
				if name == "" {
					name = u.Email
				}
				if _, err := a.client.Insert(ctx, store.Profiles, store.Row{
					"id":    u.ID,
					"name":  name,
					"email": u.Email,
					"role":  role,
				}); err != nil {
					return fmt.Errorf("create profile: %w", err)
				}
				fmt.Printf("created %s user %s (%s)\n", role, u.Email, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "login password")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", auth.RoleDoctor, "admin or doctor")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func validateRole(role string) error {
	switch role {
	case auth.RoleAdmin, auth.RoleDoctor:
		return nil
	}
	return fmt.Errorf("invalid role %q: must be %s or %s", role, auth.RoleAdmin, auth.RoleDoctor)
}

func runServer() error {
	return withApp(func(ctx context.Context, a *app) error {
		e := newServer(a)

		go func() {
			addr := ":" + a.cfg.Port
			a.logger.Info().Str("addr", addr).Str("store", a.cfg.StoreDriver).Msg("starting server")
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				a.logger.Fatal().Err(err).Msg("server error")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		a.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
}

// newServer builds the echo instance with middleware and every route.
func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "20M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool, a.migrator))
	}
	e.GET("/metrics", telemetry.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.Middleware(auth.MiddlewareConfig{
		Tokens: a.provider,
		Bypass: a.sessions.BypassIdentity,
	}))
	apiV1.Use(auth.ResolveRole(a.profiles.Role, a.logger))
	// Buckets are per user, and bulk budgets depend on the resolved role.
	limits := middleware.DefaultRateLimitConfig()
	limits.Role = func(c echo.Context) string {
		if id := auth.IdentityFromContext(c.Request().Context()); id != nil {
			return id.Role
		}
		return ""
	}
	apiV1.Use(middleware.RateLimit(limits))

	session.NewHandler(a.sessions, a.provider).RegisterRoutes(apiV1)
	events.NewWebSocketHandler(a.hub).RegisterRoutes(apiV1)
	crm.NewHandler(a.source, a.mutator, a.notifier, a.cfg.DefaultPhoneRegion, a.logger).RegisterRoutes(apiV1)
	demo.NewHandler(a.demo).RegisterRoutes(apiV1)
	importer.NewHandler(a.importer, a.notifier).RegisterRoutes(apiV1)

	a.logger.Debug().Int("routes", len(e.Routes())).Msg("routes registered")
	return e
}
