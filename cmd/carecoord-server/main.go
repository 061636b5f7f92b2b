package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/ehr/carecoord/internal/config"
	"github.com/ehr/carecoord/internal/domain/appointment"
	"github.com/ehr/carecoord/internal/domain/diagnosis"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/breaker"
	"github.com/ehr/carecoord/internal/platform/db"
	"github.com/ehr/carecoord/internal/platform/directory"
	"github.com/ehr/carecoord/internal/platform/middleware"
	"github.com/ehr/carecoord/internal/platform/notification"
	"github.com/ehr/carecoord/internal/platform/telemetry"
	"github.com/ehr/carecoord/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "carecoord-server",
		Short: "Care coordination API server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: 30 * time.Minute,
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// rulesFromConfig builds the booking rules from the clinic settings.
func rulesFromConfig(cfg *config.Config) (appointment.Rules, error) {
	loc, err := cfg.Location()
	if err != nil {
		return appointment.Rules{}, err
	}
	start, end, err := cfg.ServiceWindow()
	if err != nil {
		return appointment.Rules{}, err
	}
	return appointment.Rules{
		Location:       loc,
		WindowStart:    start,
		WindowEnd:      end,
		ConflictWindow: time.Duration(cfg.ConflictWindowMinutes) * time.Minute,
		EditCutoff:     time.Duration(cfg.EditCutoffHours) * time.Hour,
		BookingHorizon: time.Duration(cfg.BookingHorizonDays) * 24 * time.Hour,
	}, nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// newEcho builds the server with the global middleware chain and the liveness
// endpoint. API routes are mounted on the group returned by apiGroup.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevActorIDHeader, auth.DevActorRoleHeader},
	}))
	if cfg.RequestTimeoutSeconds > 0 {
		e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

// apiGroup mounts /api/v1 behind authentication, rate limiting and the
// access audit.
func apiGroup(e *echo.Echo, cfg *config.Config, logger zerolog.Logger) *echo.Group {
	var authn echo.MiddlewareFunc
	if cfg.IsDev() {
		authn = auth.DevAuthMiddleware()
	} else {
		authn = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	return e.Group("/api/v1",
		authn,
		middleware.RateLimit(rateLimitConfig(cfg)),
		middleware.Audit(logger),
	)
}

func newBreaker(name string, logger zerolog.Logger, metrics *telemetry.Metrics) *breaker.Breaker {
	return breaker.New(breaker.DefaultConfig(name), logger, func(name string, state gobreaker.State) {
		metrics.SetBreakerState(name, breaker.StateValue(state))
	})
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	rules, err := rulesFromConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking rules")
	}

	ctx := context.Background()

	tracing, err := telemetry.InitTracing(ctx, telemetry.TelemetryConfig{
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}
	if tracing.Enabled() {
		logger.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("tracing enabled")
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	dirBreaker := newBreaker("directory", logger, metrics)
	notifyBreaker := newBreaker("notification_store", logger, metrics)

	txm := db.NewTxManager(pool)
	users := directory.NewGuarded(directory.NewRepoPG(pool), dirBreaker)
	notifications := notification.NewStorePG(pool)
	dispatcher := notification.NewDispatcher(notifications, logger,
		notification.WithBreaker(notifyBreaker),
		notification.WithMetrics(metrics),
	)

	diagnosisSvc := diagnosis.NewService(diagnosis.Deps{
		Repo:      diagnosis.NewRepoPG(pool),
		Tx:        txm,
		Directory: users,
		Notifier:  dispatcher,
		Logger:    logger.With().Str("component", "diagnosis").Logger(),
	},
		diagnosis.WithRetries(cfg.TransitionRetries),
		diagnosis.WithMetrics(metrics),
	)

	appointmentSvc := appointment.NewService(appointment.Deps{
		Repo:      appointment.NewRepoPG(pool),
		Tx:        txm,
		Directory: users,
		Notifier:  dispatcher,
		Diagnoses: diagnosisSvc,
		Logger:    logger.With().Str("component", "appointment").Logger(),
	},
		appointment.WithRules(rules),
		appointment.WithRetries(cfg.TransitionRetries),
		appointment.WithMetrics(metrics),
	)

	e := newEcho(cfg, logger)
	e.GET("/health/db", db.HealthHandler(pool,
		db.HealthCheck{Name: dirBreaker.Name(), Check: dirBreaker.HealthCheck},
		db.HealthCheck{Name: notifyBreaker.Name(), Check: notifyBreaker.HealthCheck},
	))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(telemetry.Handler(reg)))
	}

	api := apiGroup(e, cfg, logger)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(api)
	diagnosis.NewHandler(diagnosisSvc).RegisterRoutes(api)
	notification.NewHandler(notification.NewService(notifications, notifyBreaker)).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
