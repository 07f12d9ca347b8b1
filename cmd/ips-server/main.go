package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ips/internal/config"
	"github.com/ehr/ips/internal/domain/summary"
	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/narrative"
	"github.com/ehr/ips/internal/platform/auth"
	"github.com/ehr/ips/internal/platform/db"
	"github.com/ehr/ips/internal/platform/fhir"
	"github.com/ehr/ips/internal/platform/middleware"
)

const (
	version          = "0.1.0"
	metricsNamespace = "ips"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ips-server",
		Short:        "International Patient Summary generator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(markdownCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the IPS HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set; patient summaries are limited to posted bundles")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := newServer(cfg, logger, reg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

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
	logger.Info().Msg("server stopped")
	return nil
}

// newGenerator builds the shared narrative generator from configuration.
func newGenerator(cfg *config.Config, logger zerolog.Logger, opts ...narrative.Option) (*narrative.Generator, error) {
	zones, err := format.NewZoneCache(cfg.ZoneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create zone cache: %w", err)
	}
	base := []narrative.Option{
		narrative.WithLogger(logger),
		narrative.WithZoneCache(zones),
		narrative.WithAddressThreshold(cfg.AddressSimilarityThreshold),
	}
	return narrative.NewGenerator(append(base, opts...)...), nil
}

func serviceConfig(cfg *config.Config) summary.Config {
	return summary.Config{
		OrgID:    cfg.OrgID,
		OrgName:  cfg.OrgName,
		BaseURL:  cfg.BaseURL,
		Timezone: cfg.Timezone,
		Sections: cfg.SummarySections,
	}
}

// newServer wires the HTTP surface. pool may be nil, in which case the
// patient endpoint answers 503 and nothing is archived.
func newServer(cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry, pool *pgxpool.Pool) (*echo.Echo, error) {
	metrics := summary.NewMetrics(metricsNamespace, reg)
	gen, err := newGenerator(cfg, logger, narrative.WithObserver(metrics.Observer()))
	if err != nil {
		return nil, err
	}

	opts := []summary.ServiceOption{summary.WithMetrics(metrics), summary.WithLogger(logger)}
	if pool != nil {
		records := summary.NewBreakerRecordRepo(summary.NewRecordRepoPG(pool), summary.BreakerSettings{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Timeout:          cfg.BreakerTimeout,
		}, logger)
		opts = append(opts, summary.WithRecords(records), summary.WithDocuments(summary.NewDocumentRepoPG(pool)))
	}
	svc := summary.NewService(serviceConfig(cfg), gen, opts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := middleware.NewHTTPMetrics(metricsNamespace, reg)
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", echo.WrapHandler(middleware.MetricsHandler(reg)))

	fhirGroup := e.Group("/fhir")
	if cfg.AuthEnabled() {
		fhirGroup.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		}))
	} else {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; /fhir routes are unauthenticated")
	}
	if cfg.RateLimitEnabled() {
		limiter, err := middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			MaxClients:        middleware.DefaultRateLimitConfig().MaxClients,
		})
		if err != nil {
			return nil, err
		}
		fhirGroup.Use(limiter)
	}
	summary.NewHandler(svc).RegisterRoutes(fhirGroup)

	return e, nil
}

// ---------------------------------------------------------------------------
// generate / markdown
// ---------------------------------------------------------------------------

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build an IPS document bundle from a bundle of patient records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("org-id") {
				cfg.OrgID, _ = flags.GetString("org-id")
			}
			if flags.Changed("org-name") {
				cfg.OrgName, _ = flags.GetString("org-name")
			}
			if flags.Changed("base-url") {
				cfg.BaseURL, _ = flags.GetString("base-url")
			}
			if flags.Changed("tz") {
				cfg.Timezone, _ = flags.GetString("tz")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts := summary.GenerateOptions{}
			opts.SummaryMode, _ = flags.GetBool("summary")
			if now, _ := flags.GetString("now"); now != "" {
				if opts.Now, err = time.Parse(time.RFC3339, now); err != nil {
					return fmt.Errorf("--now must be RFC3339: %w", err)
				}
			}

			input, _ := flags.GetString("input")
			bundle, err := readBundleFile(cmd, input)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Env)
			gen, err := newGenerator(cfg, logger)
			if err != nil {
				return err
			}
			svc := summary.NewService(serviceConfig(cfg), gen, summary.WithLogger(logger))
			doc, err := svc.GenerateFromBundle(cmd.Context(), bundle, opts)
			if err != nil {
				return fmt.Errorf("generate summary: %w", err)
			}

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			output, _ := flags.GetString("output")
			return writeOutput(cmd, output, append(data, '\n'))
		},
	}
	cmd.Flags().String("input", "-", "Input bundle file, - for stdin")
	cmd.Flags().String("output", "", "Output file (default stdout)")
	cmd.Flags().String("tz", "", "IANA timezone for narrative times (default TIMEZONE)")
	cmd.Flags().Bool("summary", false, "Reuse prior summaries found in the input")
	cmd.Flags().String("org-id", "", "Authoring Organization id (default ORG_ID)")
	cmd.Flags().String("org-name", "", "Authoring Organization name (default ORG_NAME)")
	cmd.Flags().String("base-url", "", "Base URL for entry fullUrls (default BASE_URL)")
	cmd.Flags().String("now", "", "Fixed document timestamp, RFC3339")
	return cmd
}

func markdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markdown",
		Short: "Render an IPS document bundle as Markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			bundle, err := readBundleFile(cmd, input)
			if err != nil {
				return err
			}
			md, err := summary.NewService(summary.Config{}, nil).Markdown(bundle)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			return writeOutput(cmd, output, []byte(md))
		},
	}
	cmd.Flags().String("input", "-", "Input document bundle file, - for stdin")
	cmd.Flags().String("output", "", "Output file (default stdout)")
	return cmd
}

func readBundleFile(cmd *cobra.Command, path string) (fhir.Resource, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return fhir.DecodeBundle(data)
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				count, err := m.Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(db.NewEmbeddedMigrator(pool))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
