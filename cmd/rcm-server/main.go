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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcm/rcm/internal/config"
	"github.com/rcm/rcm/internal/domain/analytics"
	"github.com/rcm/rcm/internal/domain/catalog"
	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/internal/domain/payer"
	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/middleware"
	"github.com/rcm/rcm/pkg/money"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rcm-server",
		Short: "Claim adjudication and AR engine API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(seedCmd())

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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Roll forward with a corrective migration instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, ""); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully. Run: rcm-server migrate up --schema tenant_" + name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the default procedure catalog and payer policy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
			ctx = context.WithValue(ctx, db.DBConnKey, conn)

			catalogSvc := catalog.NewService(catalog.NewProcedureCodeRepoPG(pool))
			for _, pc := range seedProcedureCodes() {
				if err := catalogSvc.Upsert(ctx, pc); err != nil {
					return fmt.Errorf("seed procedure code %s: %w", pc.Code, err)
				}
			}
			fmt.Printf("Seeded %d procedure codes.\n", len(seedProcedureCodes()))

			payerSvc := payer.NewService(payer.NewPolicyRepoPG(pool))
			if err := payerSvc.Seed(ctx); err != nil {
				return err
			}
			fmt.Println("Seeded payer policy defaults.")
			return nil
		},
	}
	cmd.Flags().String("schema", "tenant_default", "Target schema to seed")
	return cmd
}

// seedProcedureCodes is the starter charge master loaded by `seed`.
func seedProcedureCodes() []*catalog.ProcedureCode {
	c := func(code, name, category string, priceCents int64) *catalog.ProcedureCode {
		return &catalog.ProcedureCode{Code: code, Name: name, Category: category, PriceCents: money.Cents(priceCents)}
	}
	return []*catalog.ProcedureCode{
		c("99202", "Office visit, new patient, straightforward", "E&M", 10900),
		c("99213", "Office visit, established patient, low complexity", "E&M", 13500),
		c("99214", "Office visit, established patient, moderate complexity", "E&M", 19800),
		c("99285", "Emergency department visit, high severity", "Emergency", 51000),
		c("80053", "Comprehensive metabolic panel", "Laboratory", 4500),
		c("85025", "Complete blood count with differential", "Laboratory", 3200),
		c("81001", "Urinalysis with microscopy", "Laboratory", 1800),
		c("71046", "Chest X-ray, 2 views", "Radiology", 11000),
		c("73721", "MRI lower extremity joint without contrast", "Imaging", 98500),
		c("74177", "CT abdomen and pelvis with contrast", "Imaging", 82000),
		c("93000", "Electrocardiogram with interpretation", "Cardiology", 8800),
		c("93306", "Echocardiogram, complete", "Cardiology", 45200),
		c("29881", "Knee arthroscopy with meniscectomy", "Surgical", 385000),
		c("27447", "Total knee arthroplasty", "Orthopedics", 1250000),
		c("90471", "Immunization administration", "Preventive", 2500),
		c("97110", "Therapeutic exercise, 15 minutes", "Therapy", 5600),
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Procedure catalog
	catalogRepo := catalog.NewProcedureCodeRepoPG(pool)
	catalogSvc := catalog.NewService(catalogRepo)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	// Payer policies
	payerRepo := payer.NewPolicyRepoPG(pool)
	payerSvc := payer.NewService(payerRepo)
	payer.NewHandler(payerSvc).RegisterRoutes(apiV1)

	// Claim ledger
	claimRepo := claims.NewClaimRepoPG(pool)
	transitionRepo := claims.NewTransitionRepoPG(pool)
	paymentRepo := claims.NewPaymentRepoPG(pool)
	claimSvc := claims.NewService(claimRepo, transitionRepo, paymentRepo, catalogSvc.Lookup, payerSvc.Lookup)
	claims.NewHandler(claimSvc).RegisterRoutes(apiV1)

	// AR analytics
	analyticsSvc := analytics.NewService(claimRepo, paymentRepo)
	analytics.NewHandler(analyticsSvc).RegisterRoutes(apiV1)

	// Warm the reference-data caches so claim building never waits on the
	// database for a code or rate lookup.
	if err := warmCaches(ctx, pool, cfg.DefaultTenant, catalogSvc, payerSvc); err != nil {
		logger.Warn().Err(err).Msg("reference data cache warmup failed; lookups will miss until reseeded")
	} else {
		logger.Info().Int("procedure_codes", catalogSvc.Size()).Msg("reference data loaded")
	}

	// Graceful shutdown
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

// warmCaches loads the procedure catalog and payer policy table from the
// default tenant schema into their in-memory snapshots.
func warmCaches(ctx context.Context, pool *pgxpool.Pool, defaultTenant string, catalogSvc *catalog.Service, payerSvc *payer.Service) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	schema := db.SchemaName(defaultTenant)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, db.DBConnKey, conn)

	if err := catalogSvc.Load(ctx); err != nil {
		return err
	}
	return payerSvc.Load(ctx)
}
